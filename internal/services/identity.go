package services

import (
	"context"

	"github.com/google/uuid"
)

// IdentityProvider reports which user owns newly persisted prescriptions.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (id string, anonymous bool, err error)
}

// StaticIdentity is an IdentityProvider for a fixed, pre-authenticated
// user, typically resolved from the incoming request before the pipeline
// starts.
type StaticIdentity struct {
	ID        string
	Anonymous bool
}

func (s StaticIdentity) CurrentUser(ctx context.Context) (string, bool, error) {
	if s.ID == "" {
		return "", false, ErrUnauthenticated
	}
	return s.ID, s.Anonymous, nil
}

// NewAnonymousIdentity mints a one-off anonymous identity, the fallback
// when a scan arrives without a signed-in user.
func NewAnonymousIdentity() StaticIdentity {
	return StaticIdentity{ID: "anon-" + uuid.NewString(), Anonymous: true}
}
