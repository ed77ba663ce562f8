// Package authz carries the acting employee through the request context and
// gates operations on role capabilities. Identity itself is established
// upstream (the API gateway terminates auth); this service only decides what
// an already-identified actor may do.
package authz

import (
	"context"
	"errors"
	"fmt"
)

// ErrPermission is returned when the actor's role lacks the capability.
var ErrPermission = errors.New("permission denied")

// Actor is the employee performing the current request.
type Actor struct {
	EmployeeID int64  `json:"employee_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
}

// Roles known to the service.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Capability names an operation class that roles are granted.
type Capability string

const (
	CapCreateSale      Capability = "create-sale"
	CapCreateOrder     Capability = "create-order"
	CapAdvanceStatus   Capability = "advance-status"
	CapConfirmTransfer Capability = "confirm-transfer"
	CapCancelOrder     Capability = "cancel-order"
)

// roleCapabilities is the grant table. Transfer confirmation is the only
// admin-restricted operation: it rewrites the financial ledger.
var roleCapabilities = map[string]map[Capability]bool{
	RoleAdmin: {
		CapCreateSale:      true,
		CapCreateOrder:     true,
		CapAdvanceStatus:   true,
		CapConfirmTransfer: true,
		CapCancelOrder:     true,
	},
	RoleStaff: {
		CapCreateSale:    true,
		CapCreateOrder:   true,
		CapAdvanceStatus: true,
		CapCancelOrder:   true,
	},
}

type contextKey struct{}

// WithActor attaches the actor to the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext returns the actor attached by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}

// Require returns the actor if the context carries one whose role grants the
// capability, and ErrPermission otherwise.
func Require(ctx context.Context, capability Capability) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, fmt.Errorf("no actor in context: %w", ErrPermission)
	}
	if !roleCapabilities[actor.Role][capability] {
		return actor, fmt.Errorf("role %s cannot %s: %w", actor.Role, capability, ErrPermission)
	}
	return actor, nil
}
