package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize checks that the admin, acting in role, may perform action on
	// object. The role is asserted by the gateway; casbin decides.
	Authorize(ctx context.Context, adminID, role, object, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
