package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// Access tokens are HS256 only; anything else is rejected before the key is
// looked at.
var signingMethod = jwt.SigningMethodHS256

func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := checkSigningConfig(cfg); err != nil {
		return "", err
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", errors.New("jwt: expiration minutes must be positive")
	}
	if err := checkRoleBinding(payload.Role, payload.VendorID); err != nil {
		return "", err
	}

	id := strings.TrimSpace(payload.JTI)
	if id == "" {
		id = uuid.NewString()
	}
	ttl := time.Duration(cfg.ExpirationMinutes) * time.Minute
	claims := AccessTokenClaims{
		UserID:   payload.UserID,
		Role:     payload.Role,
		VendorID: payload.VendorID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry, then the role
// binding. Failures come back as CodeUnauthorized errors; an expired token
// carries ReasonTokenExpired so clients know to refresh.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if err := checkSigningConfig(cfg); err != nil {
		return nil, err
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "access token expired").WithReason(pkgerrors.ReasonTokenExpired)
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}

	if claims.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token has no user")
	}
	if err := checkRoleBinding(claims.Role, claims.VendorID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	return claims, nil
}

func checkSigningConfig(cfg config.JWTConfig) error {
	switch {
	case cfg.Secret == "":
		return errors.New("jwt: secret is required")
	case cfg.Issuer == "":
		return errors.New("jwt: issuer is required")
	}
	return nil
}

// checkRoleBinding enforces that vendor tokens name their vendor and no
// other role carries one.
func checkRoleBinding(role enums.MemberRole, vendorID *uuid.UUID) error {
	if !role.IsValid() {
		return fmt.Errorf("jwt: unknown role %q", role)
	}
	hasVendor := vendorID != nil && *vendorID != uuid.Nil
	if role == enums.MemberRoleVendor && !hasVendor {
		return errors.New("jwt: vendor tokens require a vendor id")
	}
	if role != enums.MemberRoleVendor && hasVendor {
		return fmt.Errorf("jwt: %s tokens must not carry a vendor id", role)
	}
	return nil
}
