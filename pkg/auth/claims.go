package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	Role     enums.MemberRole
	VendorID *uuid.UUID
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID   uuid.UUID        `json:"user_id"`
	Role     enums.MemberRole `json:"role"`
	VendorID *uuid.UUID       `json:"vendor_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal returns the capability value handed to the core operations.
func (c *AccessTokenClaims) Principal() Principal {
	return Principal{UserID: c.UserID, Role: c.Role, VendorID: c.VendorID}
}
