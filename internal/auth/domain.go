// Package auth implements credential checks, cookie sessions and the
// identity-provider boundary the session gate consumes.
package auth

import "context"

// Session is the opaque session handle handed to the gate. Nil means
// signed out.
type Session struct {
	ID     string
	UserID string
	Email  string
}

// Event tags an auth state change.
type Event string

const (
	// EventSignedIn fires after a successful login.
	EventSignedIn Event = "signed_in"
	// EventSignedOut fires after logout or session destruction.
	EventSignedOut Event = "signed_out"
)

// Provider is the identity boundary: resolve the current session, observe
// session changes, terminate the session.
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers a listener and returns its cancel
	// function. Listeners observe events for this provider's session only.
	OnAuthStateChange(fn func(Event, *Session)) (cancel func())
	SignOut(ctx context.Context) error
}
