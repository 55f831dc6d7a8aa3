// Package auth authenticates bearer tokens against an OIDC issuer and maps
// their role claim onto the viewer/editor/admin ladder.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	IssuerURL string
	// Audience is matched against the token's aud claim.
	Audience   string
	RolesClaim string
	EmailClaim string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(env.String("AUTH_MODE", string(ModeOIDC)))
	cfg := Config{
		Mode:       Mode(modeRaw),
		IssuerURL:  env.String("OIDC_ISSUER_URL", ""),
		Audience:   env.String("OIDC_AUDIENCE", env.String("OIDC_CLIENT_ID", "")),
		RolesClaim: env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim: env.String("AUTH_EMAIL_CLAIM", "email"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.IssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.Audience) == "" {
			return errors.New("OIDC_AUDIENCE is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("AUTH_ROLES_CLAIM is required")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("AUTH_MODE must be one of: oidc, disabled (got %q)", c.Mode)
	}
	return nil
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// Anonymous admits every request as an admin. Used with AUTH_MODE=disabled.
type Anonymous struct{}

func (Anonymous) Authenticate(context.Context, *http.Request) (Identity, error) {
	return Identity{Subject: "anonymous", Roles: []string{string(RoleAdmin)}}, nil
}
