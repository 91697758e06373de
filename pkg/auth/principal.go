package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// Principal is the authenticated caller. It is passed explicitly into every
// core operation rather than looked up from ambient request state.
type Principal struct {
	UserID   uuid.UUID
	Role     enums.MemberRole
	VendorID *uuid.UUID
}

func (p Principal) IsAdmin() bool { return p.Role == enums.MemberRoleAdmin }

// RequireCustomer checks the caller may act on their own orders.
func (p Principal) RequireCustomer() error {
	if p.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if p.Role != enums.MemberRoleCustomer && p.Role != enums.MemberRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "customer role required")
	}
	return nil
}

// RequireVendor returns the vendor id the caller acts for.
func (p Principal) RequireVendor() (uuid.UUID, error) {
	if p.UserID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if p.Role != enums.MemberRoleVendor || p.VendorID == nil || *p.VendorID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor role required")
	}
	return *p.VendorID, nil
}

func (p Principal) RequireAdmin() error {
	if p.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !p.IsAdmin() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return nil
}
