// Package auth signs members in and out and keeps the explicit session state the other services read.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/folkengine/goname"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	providerEmail     = "email"
	issuer            = "family-hub"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Claims of the access tokens issued by the service.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Service implements the auth operations against the gateway. Credentials (auth_users) and the public profile
// (profiles) are separate rows sharing the user id.
type Service struct {
	store    gateway.Store
	session  *Session
	tokens   *TokenStore
	verifier IDTokenVerifier
	Notifier notify.Notifier

	secret   []byte
	ttl      time.Duration
	resetTTL time.Duration
	cost     int

	logger hclog.Logger
}

// NewService creates the service. tokens may be nil, sessions are then not kept between runs.
func NewService(store gateway.Store, cfg config.AuthConfig, session *Session, tokens *TokenStore) *Service {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		// tokens of a process without configured secret cannot be verified elsewhere
		secret = []byte(uuid.NewString())
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	resetTTL := cfg.ResetTTL
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	if session == nil {
		session = NewSession()
	}
	return &Service{
		store:    store,
		session:  session,
		tokens:   tokens,
		verifier: NewOIDCVerifier(cfg.OIDCConfigs),
		secret:   secret,
		ttl:      ttl,
		resetTTL: resetTTL,
		cost:     bcrypt.DefaultCost,
		logger:   globals.AppLogger.Named("auth"),
	}
}

// WithVerifier replaces the ID token verifier.
func (s *Service) WithVerifier(v IDTokenVerifier) *Service {
	s.verifier = v
	return s
}

// WithCost sets the bcrypt cost for new password hashes.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

func (s *Service) Session() *Session {
	return s.session
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t\n") {
		return "", types.NewValidationError("email", "Invalid email address")
	}
	return email, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return types.NewValidationError("password", fmt.Sprintf("Password should be at least %d characters", minPasswordLength))
	}
	return nil
}

func (s *Service) fail(title string, err error) error {
	return notify.Fail(s.logger, s.Notifier, title, err)
}

func (s *Service) profile(ctx context.Context, filter gateway.Filter) (*types.User, error) {
	rows, err := s.store.Select(ctx, gateway.From(gateway.Profiles).Where(filter).LimitTo(1))
	if err != nil {
		return nil, types.Remote("load profile", err)
	}
	if len(rows) == 0 {
		return nil, types.ErrNotFound
	}
	u, err := mapper.New(s.store, nil).Profile(rows[0])
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Token issues an access token for user.
func (s *Service) Token(user *types.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.Id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken validates an access token and returns its claims.
func (s *Service) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) establish(user *types.User) error {
	token, err := s.Token(user)
	if err != nil {
		return err
	}
	if s.tokens != nil {
		err = s.tokens.Save(SessionKey, token, s.ttl)
		if err != nil {
			s.logger.Warn("could not persist session", "error", err)
		}
	}
	s.session.set(user, token)
	return nil
}

// SignUp registers a member with email and password and signs them in. Without a display name a generated one is
// used. The credentials row is created first; if the profile cannot be created afterwards, the credentials are
// removed again and a PartialError is returned.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*types.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, s.fail("Sign up failed", err)
	}
	if err := validatePassword(password); err != nil {
		return nil, s.fail("Sign up failed", err)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = goname.New(goname.FantasyMap).FirstLast()
	}

	existing, err := s.store.Select(ctx, gateway.From(gateway.AuthUsers).Select("id").Where(gateway.Eq("email", email)).LimitTo(1))
	if err != nil {
		return nil, s.fail("Sign up failed", types.Remote("check email", err))
	}
	if len(existing) > 0 {
		return nil, s.fail("Sign up failed", types.NewValidationError("email", "User already registered"))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, s.fail("Sign up failed", err)
	}
	cred, err := s.store.Insert(ctx, gateway.AuthUsers, gateway.Row{
		"email":         email,
		"password_hash": string(hash),
		"provider":      providerEmail,
	})
	if err != nil {
		return nil, s.fail("Sign up failed", types.Remote("create credentials", err))
	}
	user, err := s.createProfile(ctx, cred.String("id"), email, displayName)
	if err != nil {
		return nil, s.fail("Sign up failed", err)
	}
	err = s.establish(user)
	if err != nil {
		return nil, s.fail("Sign up failed", err)
	}
	s.logger.Info("signed up", "user", user.Id)
	return user, nil
}

func (s *Service) createProfile(ctx context.Context, id, email, displayName string) (*types.User, error) {
	row, err := s.store.Insert(ctx, gateway.Profiles, gateway.Row{
		"id":           id,
		"email":        email,
		"display_name": displayName,
		"role":         types.RoleUser,
	})
	if err != nil {
		perr := &types.PartialError{Op: "sign up", Completed: "credentials", Failed: "profile", Err: err}
		derr := s.store.Delete(ctx, gateway.AuthUsers, gateway.Eq("id", id))
		if derr != nil {
			s.logger.Error("could not remove credentials after failed sign up", "user", id, "error", derr)
		} else {
			perr.Compensated = true
		}
		return nil, perr
	}
	u, err := mapper.New(s.store, nil).Profile(row)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SignIn checks email and password and establishes the session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*types.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, s.fail("Sign in failed", err)
	}
	if password == "" {
		return nil, s.fail("Sign in failed", types.NewValidationError("password", "Password is required"))
	}
	rows, err := s.store.Select(ctx, gateway.From(gateway.AuthUsers).Where(gateway.Eq("email", email)).LimitTo(1))
	if err != nil {
		return nil, s.fail("Sign in failed", types.Remote("load credentials", err))
	}
	if len(rows) == 0 || rows[0].String("password_hash") == "" {
		return nil, s.fail("Sign in failed", ErrInvalidCredentials)
	}
	err = bcrypt.CompareHashAndPassword([]byte(rows[0].String("password_hash")), []byte(password))
	if err != nil {
		return nil, s.fail("Sign in failed", ErrInvalidCredentials)
	}
	user, err := s.profile(ctx, gateway.Eq("id", rows[0].String("id")))
	if err != nil {
		return nil, s.fail("Sign in failed", err)
	}
	err = s.establish(user)
	if err != nil {
		return nil, s.fail("Sign in failed", err)
	}
	return user, nil
}

// SignInWithIDToken signs in with an OpenID Connect ID token of a configured provider. Unknown emails get an
// account without password.
func (s *Service) SignInWithIDToken(ctx context.Context, provider, idToken string) (*types.User, error) {
	email, err := s.verifier.Verify(ctx, provider, idToken)
	if err != nil {
		return nil, s.fail("Sign in failed", fmt.Errorf("%w: %s", ErrInvalidCredentials, err))
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, s.fail("Sign in failed", err)
	}
	user, err := s.profile(ctx, gateway.Eq("email", email))
	if errors.Is(err, types.ErrNotFound) {
		cred, ierr := s.store.Insert(ctx, gateway.AuthUsers, gateway.Row{"email": email, "provider": provider})
		if ierr != nil {
			return nil, s.fail("Sign in failed", types.Remote("create credentials", ierr))
		}
		name := email[:strings.Index(email, "@")]
		user, err = s.createProfile(ctx, cred.String("id"), email, name)
	}
	if err != nil {
		return nil, s.fail("Sign in failed", err)
	}
	err = s.establish(user)
	if err != nil {
		return nil, s.fail("Sign in failed", err)
	}
	return user, nil
}

// Assume establishes a session for an existing user without credentials. It is meant for trusted tooling like
// the admin CLI.
func (s *Service) Assume(ctx context.Context, userId string) (*types.User, error) {
	user, err := s.profile(ctx, gateway.Eq("id", userId))
	if err != nil {
		return nil, err
	}
	s.session.set(user, "")
	return user, nil
}

// AssumeEmail is Assume for the user with the given email.
func (s *Service) AssumeEmail(ctx context.Context, email string) (*types.User, error) {
	user, err := s.profile(ctx, gateway.Eq("email", strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return nil, err
	}
	s.session.set(user, "")
	return user, nil
}

func (s *Service) SignOut(ctx context.Context) error {
	if s.tokens != nil {
		err := s.tokens.Delete(SessionKey)
		if err != nil {
			s.logger.Warn("could not remove persisted session", "error", err)
		}
	}
	s.session.clear()
	return nil
}

// GetSession restores the persisted session. Without a valid stored token the session is anonymous.
func (s *Service) GetSession(ctx context.Context) (State, error) {
	s.session.setLoading(true)
	if s.tokens == nil {
		s.session.set(s.session.User(), s.session.Token())
		return s.session.Snapshot(), nil
	}
	token, err := s.tokens.Load(SessionKey)
	if err != nil || token == "" {
		s.session.clear()
		return s.session.Snapshot(), err
	}
	claims, err := s.ParseToken(token)
	if err != nil {
		s.logger.Debug("discarding stored session", "error", err)
		_ = s.tokens.Delete(SessionKey)
		s.session.clear()
		return s.session.Snapshot(), nil
	}
	user, err := s.profile(ctx, gateway.Eq("id", claims.Subject))
	if err != nil {
		s.session.clear()
		if errors.Is(err, types.ErrNotFound) {
			return s.session.Snapshot(), nil
		}
		return s.session.Snapshot(), err
	}
	s.session.set(user, token)
	return s.session.Snapshot(), nil
}

// OnAuthStateChange registers a listener for session changes; the returned function removes it.
func (s *Service) OnAuthStateChange(f func(State)) func() {
	return s.session.OnChange(f)
}

// UserUpdate changes the credentials of the signed in user. Nil fields are left unchanged.
type UserUpdate struct {
	Email    *string
	Password *string
}

func (s *Service) UpdateUser(ctx context.Context, update UserUpdate) (*types.User, error) {
	user, err := s.session.Require()
	if err != nil {
		return nil, s.fail("Update failed", err)
	}
	patch := gateway.Row{}
	if update.Email != nil {
		email, err := normalizeEmail(*update.Email)
		if err != nil {
			return nil, s.fail("Update failed", err)
		}
		patch["email"] = email
	}
	if update.Password != nil {
		if err := validatePassword(*update.Password); err != nil {
			return nil, s.fail("Update failed", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*update.Password), s.cost)
		if err != nil {
			return nil, s.fail("Update failed", err)
		}
		patch["password_hash"] = string(hash)
	}
	if len(patch) == 0 {
		return user, nil
	}
	_, err = s.store.Update(ctx, gateway.AuthUsers, patch, gateway.Eq("id", user.Id))
	if err != nil {
		return nil, s.fail("Update failed", types.Remote("update credentials", err))
	}
	if email, ok := patch["email"]; ok {
		_, err = s.store.Update(ctx, gateway.Profiles, gateway.Row{"email": email}, gateway.Eq("id", user.Id))
		if err != nil {
			return nil, s.fail("Update failed", &types.PartialError{Op: "update user", Completed: "credentials", Failed: "profile", Err: err})
		}
		user.Email = email.(string)
		s.session.SetUser(*user)
	}
	return user, nil
}

// ResetPasswordForEmail records a password reset request. Delivery of the reset link is up to the mailer
// watching password_resets; unknown emails are accepted as well so that membership is not disclosed.
func (s *Service) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return s.fail("Password reset failed", err)
	}
	_, err = s.store.Insert(ctx, gateway.PasswordResets, gateway.Row{
		"email":       email,
		"token":       uuid.NewString(),
		"redirect_to": redirectTo,
		"expires_at":  time.Now().UTC().Add(s.resetTTL),
	})
	if err != nil {
		return s.fail("Password reset failed", types.Remote("request reset", err))
	}
	notify.Success(s.Notifier, "Password reset", "Check your email for the reset link")
	return nil
}

// ConfirmPasswordReset sets a new password using the token of a reset request.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, password string) error {
	if err := validatePassword(password); err != nil {
		return s.fail("Password reset failed", err)
	}
	rows, err := s.store.Select(ctx, gateway.From(gateway.PasswordResets).Where(gateway.Eq("token", token)).LimitTo(1))
	if err != nil {
		return s.fail("Password reset failed", types.Remote("load reset", err))
	}
	if len(rows) == 0 {
		return s.fail("Password reset failed", ErrInvalidToken)
	}
	var reset struct {
		Email     string    `mapstructure:"email"`
		ExpiresAt time.Time `mapstructure:"expires_at"`
	}
	err = mapper.Decode(rows[0], &reset)
	if err != nil {
		return s.fail("Password reset failed", err)
	}
	if time.Now().After(reset.ExpiresAt) {
		return s.fail("Password reset failed", ErrInvalidToken)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return s.fail("Password reset failed", err)
	}
	updated, err := s.store.Update(ctx, gateway.AuthUsers, gateway.Row{"password_hash": string(hash)}, gateway.Eq("email", reset.Email))
	if err != nil {
		return s.fail("Password reset failed", types.Remote("update credentials", err))
	}
	if len(updated) == 0 {
		return s.fail("Password reset failed", ErrInvalidToken)
	}
	err = s.store.Delete(ctx, gateway.PasswordResets, gateway.Eq("token", token))
	if err != nil {
		s.logger.Warn("could not remove used reset token", "error", err)
	}
	return nil
}
