package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

var errNoCustomer = errors.New("token has no customer")

// AccessTokenPayload is what a caller supplies when minting a token.
type AccessTokenPayload struct {
	CustomerID uuid.UUID
	UserID     *uuid.UUID
	Role       enums.ActorRole
	JTI        string
}

// AccessTokenClaims is the verified body of a bearer token. CustomerID scopes
// every payroll and directory operation.
type AccessTokenClaims struct {
	CustomerID uuid.UUID       `json:"customer_id"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	Role       enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass; jwt calls it through
// jwt.ClaimsValidator.
func (c *AccessTokenClaims) Validate() error {
	if c.CustomerID == uuid.Nil {
		return errNoCustomer
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("token has invalid role %q", c.Role)
	}
	return nil
}

var _ jwt.ClaimsValidator = (*AccessTokenClaims)(nil)
