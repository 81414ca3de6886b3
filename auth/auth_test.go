package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/gateway/gatewaytest"
	"github.com/tcriess/family-hub/types"
	"golang.org/x/crypto/bcrypt"
)

func newService(t *testing.T, store gateway.Store, tokens *TokenStore) *Service {
	cfg := config.Default().AuthConfig
	cfg.JWTSecret = "test-secret"
	return NewService(store, cfg, NewSession(), tokens).WithCost(bcrypt.MinCost)
}

func TestSignUpAndSignIn(t *testing.T) {
	g := gatewaytest.New(t)
	s := newService(t, g, nil)
	ctx := context.Background()

	states := make([]State, 0)
	remove := s.OnAuthStateChange(func(st State) {
		states = append(states, st)
	})
	defer remove()

	u, err := s.SignUp(ctx, " Alice@Example.com ", "secret1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, types.RoleUser, u.Role)
	assert.True(t, types.IsUUID(u.Id))
	require.Len(t, states, 1)
	assert.True(t, states[0].IsAuthenticated)
	assert.False(t, states[0].IsLoading)

	_, err = s.SignUp(ctx, "alice@example.com", "secret1", "Alice")
	assert.True(t, types.IsValidation(err))

	require.NoError(t, s.SignOut(ctx))
	assert.False(t, s.Session().Snapshot().IsAuthenticated)

	_, err = s.SignIn(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	u2, err := s.SignIn(ctx, "ALICE@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.Id, u2.Id)
	assert.Equal(t, "Alice", u2.DisplayName)

	claims, err := s.ParseToken(s.Session().Token())
	require.NoError(t, err)
	assert.Equal(t, u.Id, claims.Subject)
}

func TestSignUpValidation(t *testing.T) {
	g := gatewaytest.NewRecorder(gatewaytest.New(t))
	s := newService(t, g, nil)
	ctx := context.Background()

	_, err := s.SignUp(ctx, "not-an-email", "secret1", "")
	assert.True(t, types.IsValidation(err))
	_, err = s.SignUp(ctx, "a@example.com", "123", "")
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, 0, g.Calls(""))
}

func TestSignUpGeneratedName(t *testing.T) {
	s := newService(t, gatewaytest.New(t), nil)
	u, err := s.SignUp(context.Background(), "b@example.com", "secret1", "  ")
	require.NoError(t, err)
	assert.NotEmpty(t, u.DisplayName)
}

func TestSignUpCompensation(t *testing.T) {
	g := gatewaytest.New(t)
	rec := gatewaytest.NewRecorder(g)
	s := newService(t, rec, nil)
	ctx := context.Background()

	rec.FailInserts(gateway.Profiles, 1)
	_, err := s.SignUp(ctx, "c@example.com", "secret1", "C")
	var perr *types.PartialError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Compensated)
	assert.False(t, s.Session().Snapshot().IsAuthenticated)

	rows, err := g.Select(ctx, gateway.From(gateway.AuthUsers))
	require.NoError(t, err)
	assert.Len(t, rows, 0)

	// the email is free again
	_, err = s.SignUp(ctx, "c@example.com", "secret1", "C")
	assert.NoError(t, err)
}

func TestGetSessionRestores(t *testing.T) {
	g := gatewaytest.New(t)
	tokens, err := OpenTokenStore(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	defer tokens.Close()

	s := newService(t, g, tokens)
	ctx := context.Background()
	u, err := s.SignUp(ctx, "d@example.com", "secret1", "D")
	require.NoError(t, err)

	// a second client sharing the token store
	s2 := newService(t, g, tokens)
	assert.True(t, s2.Session().Snapshot().IsLoading)
	st, err := s2.GetSession(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Equal(t, u.Id, st.User.Id)

	require.NoError(t, s2.SignOut(ctx))
	s3 := newService(t, g, tokens)
	st, err = s3.GetSession(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsAuthenticated)
}

func TestTokenStoreLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	tokens, err := OpenTokenStore(path)
	require.NoError(t, err)
	_, err = OpenTokenStore(path)
	assert.ErrorIs(t, err, ErrStoreLocked)
	require.NoError(t, tokens.Close())

	tokens, err = OpenTokenStore(path)
	require.NoError(t, err)
	defer tokens.Close()
	require.NoError(t, tokens.Save("k", "v", time.Hour))
	v, err := tokens.Load("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	require.NoError(t, tokens.Delete("k"))
	v, err = tokens.Load("k")
	require.NoError(t, err)
	assert.Empty(t, v)
}

type staticVerifier string

func (v staticVerifier) Verify(ctx context.Context, provider, idToken string) (string, error) {
	if idToken != "valid" {
		return "", errors.New("bad token")
	}
	return string(v), nil
}

func TestSignInWithIDToken(t *testing.T) {
	g := gatewaytest.New(t)
	s := newService(t, g, nil).WithVerifier(staticVerifier("Eve@Example.com"))
	ctx := context.Background()

	u, err := s.SignInWithIDToken(ctx, "google", "valid")
	require.NoError(t, err)
	assert.Equal(t, "eve", u.DisplayName)

	u2, err := s.SignInWithIDToken(ctx, "google", "valid")
	require.NoError(t, err)
	assert.Equal(t, u.Id, u2.Id)

	_, err = s.SignInWithIDToken(ctx, "google", "forged")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// no password was set
	_, err = s.SignIn(ctx, "eve@example.com", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateUserAndReset(t *testing.T) {
	g := gatewaytest.New(t)
	s := newService(t, g, nil)
	ctx := context.Background()

	_, err := s.UpdateUser(ctx, UserUpdate{})
	assert.ErrorIs(t, err, types.ErrNotAuthenticated)

	_, err = s.SignUp(ctx, "f@example.com", "secret1", "F")
	require.NoError(t, err)
	email := "frank@example.com"
	u, err := s.UpdateUser(ctx, UserUpdate{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, email, u.Email)
	assert.Equal(t, email, s.Session().User().Email)

	require.NoError(t, s.ResetPasswordForEmail(ctx, email, "http://localhost/reset"))
	rows, err := g.Select(ctx, gateway.From(gateway.PasswordResets).Where(gateway.Eq("email", email)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "http://localhost/reset", rows[0].String("redirect_to"))

	require.NoError(t, s.ConfirmPasswordReset(ctx, rows[0].String("token"), "newsecret"))
	_, err = s.SignIn(ctx, email, "newsecret")
	assert.NoError(t, err)
	assert.ErrorIs(t, s.ConfirmPasswordReset(ctx, rows[0].String("token"), "newsecret"), ErrInvalidToken)
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	g := gatewaytest.New(t)
	s := newService(t, g, nil)
	token, err := s.Token(&types.User{Id: "u1", Email: "x@example.com"})
	require.NoError(t, err)

	cfg := config.Default().AuthConfig
	cfg.JWTSecret = "other"
	other := NewService(g, cfg, nil, nil)
	_, err = other.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
