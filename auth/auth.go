// Package auth defines the operator identity contract consumed by the
// engine. Identity comes from an external system (the POS app's login);
// this package only carries who is acting and what they may see.
package auth

import (
	"context"
	"errors"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleBarista Role = "barista"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleBarista }

// Operator is the identity stamped onto shifts and transactions.
type Operator struct {
	ID   string
	Name string
	Role Role
}

// ErrNoOperator is returned when no identity is attached to the context.
var ErrNoOperator = errors.New("no operator in context")

type contextKey struct{}

// WithOperator attaches an operator to the context.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, contextKey{}, op)
}

// FromContext extracts the operator attached by WithOperator.
func FromContext(ctx context.Context) (Operator, error) {
	op, ok := ctx.Value(contextKey{}).(Operator)
	if !ok {
		return Operator{}, ErrNoOperator
	}
	return op, nil
}

// Provider resolves the current operator. The API layer uses a header-based
// implementation; tests use Static.
type Provider interface {
	Current(ctx context.Context) (Operator, error)
}

// Static always returns the same operator. Useful for tests and single-till
// deployments.
type Static struct {
	Operator Operator
}

func (s Static) Current(context.Context) (Operator, error) {
	return s.Operator, nil
}
