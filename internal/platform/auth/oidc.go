package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Bearer verifies Authorization: Bearer tokens issued by the configured
// provider.
type Bearer struct {
	verifier   *oidc.IDTokenVerifier
	rolesClaim string
	emailClaim string
}

// NewBearer discovers the issuer's keys.
func NewBearer(ctx context.Context, cfg Config) (*Bearer, error) {
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return NewBearerWithVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.Audience}), cfg), nil
}

func NewBearerWithVerifier(verifier *oidc.IDTokenVerifier, cfg Config) *Bearer {
	return &Bearer{verifier: verifier, rolesClaim: cfg.RolesClaim, emailClaim: cfg.EmailClaim}
}

func (b *Bearer) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	if b == nil || b.verifier == nil {
		return Identity{}, errors.New("bearer authenticator not initialized")
	}
	raw := tokenFromHeader(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	token, err := b.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, err
	}
	return Identity{
		Subject: token.Subject,
		Email:   stringClaim(claims, b.emailClaim),
		Roles:   rolesClaim(claims, b.rolesClaim),
	}, nil
}

func tokenFromHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func stringClaim(claims map[string]any, name string) string {
	if name == "" {
		return ""
	}
	v, _ := claims[name].(string)
	return v
}

// rolesClaim accepts a JSON array or a space/comma separated string. Dotted
// names walk nested objects (realm_access.roles).
func rolesClaim(claims map[string]any, name string) []string {
	var v any = claims
	for _, part := range strings.Split(name, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[part]
	}
	var out []string
	switch roles := v.(type) {
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		out = strings.FieldsFunc(roles, func(r rune) bool { return r == ',' || r == ' ' })
	}
	return out
}
