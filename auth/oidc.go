package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/family-hub/config"
)

// IDTokenVerifier checks an ID token of the named provider and returns the verified email address.
type IDTokenVerifier interface {
	Verify(ctx context.Context, provider, idToken string) (string, error)
}

// OIDCVerifier verifies ID tokens with the configured OpenID Connect providers.
type OIDCVerifier struct {
	configs []config.OIDCConfig
}

func NewOIDCVerifier(configs []config.OIDCConfig) *OIDCVerifier {
	return &OIDCVerifier{configs: configs}
}

// Verify verifies idToken using the provider configured under the given name. The user is identified by the
// "email" claim, which must be present and verified by the provider.
func (v *OIDCVerifier) Verify(ctx context.Context, provider, idToken string) (string, error) {
	if idToken == "" {
		return "", fmt.Errorf("no id token")
	}
	var oidcConf *config.OIDCConfig
	for i := range v.configs {
		if v.configs[i].Name == provider {
			oidcConf = &v.configs[i]
			break
		}
	}
	if oidcConf == nil {
		return "", fmt.Errorf("no oidc config found for provider %q", provider)
	}
	p, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return "", err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifiedIdToken, err := p.Verifier(&conf).Verify(ctx, idToken)
	if err != nil {
		return "", err
	}

	claims := struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}{}
	err = verifiedIdToken.Claims(&claims)
	if err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", fmt.Errorf("id token without email claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", fmt.Errorf("email %s not verified by %s", claims.Email, provider)
	}
	return strings.ToLower(claims.Email), nil
}
