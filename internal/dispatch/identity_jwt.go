package dispatch

import (
	"context"

	"github.com/edgegate/gateway-core/internal/auth"
	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// JWTIdentity validates bearer tokens with internal/auth's JWT
// machinery (RS256 against an upstream IdP's JWKS, or HS256 for backend
// / dev tokens). It only confirms the token's signature and claims are
// valid; it does not look up a tenancy session, which happens
// separately once the token is accepted as a session identifier.
type JWTIdentity struct {
	cfg auth.JWTCfg
}

// NewJWTIdentity builds a JWTIdentity from cfg. If cfg.JWKSURL is set,
// the caller must have already called auth.InitJWKSCache(cfg) at
// startup.
func NewJWTIdentity(cfg auth.JWTCfg) *JWTIdentity {
	return &JWTIdentity{cfg: cfg}
}

func (j *JWTIdentity) Validate(ctx context.Context, token string) error {
	if _, err := auth.ValidateToken(token, j.cfg); err != nil {
		return gwerrors.New(gwerrors.KindUnauthorized, "token validation failed: "+err.Error(), nil)
	}
	return nil
}
