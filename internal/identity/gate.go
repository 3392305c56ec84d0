// Package identity holds the token gate every inbound request passes before
// any machine operation runs.
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

// Gate validates an opaque token. It makes a binary accept or reject
// decision.
type Gate interface {
	Validate(ctx context.Context, token string) bool
}

// ErrUnauthorized is matched by every Rejection.
var ErrUnauthorized = errors.New("unauthorized")

// Rejection is the typed result of a failed gate check.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "unauthorized: " + r.Reason
}

func (r *Rejection) Is(target error) bool {
	return target == ErrUnauthorized
}

// Check runs the gate and returns a *Rejection when the token is refused.
func Check(ctx context.Context, gate Gate, token string) error {
	if strings.TrimSpace(token) == "" {
		return &Rejection{Reason: "missing token"}
	}
	if gate == nil || !gate.Validate(ctx, token) {
		return &Rejection{Reason: "invalid token"}
	}
	return nil
}

// StaticGate accepts a fixed set of tokens.
type StaticGate struct {
	tokens [][]byte
}

// NewStaticGate builds a gate from the configured tokens. Blank entries are
// ignored; a gate with no tokens rejects everything.
func NewStaticGate(tokens ...string) *StaticGate {
	g := &StaticGate{}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			g.tokens = append(g.tokens, []byte(tok))
		}
	}
	return g
}

func (g *StaticGate) Validate(_ context.Context, token string) bool {
	candidate := []byte(token)
	ok := 0
	// compare against every token so timing does not reveal which matched
	for _, tok := range g.tokens {
		ok |= subtle.ConstantTimeCompare(tok, candidate)
	}
	return ok == 1
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, token string) bool

func (f GateFunc) Validate(ctx context.Context, token string) bool { return f(ctx, token) }
