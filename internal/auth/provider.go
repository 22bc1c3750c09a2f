package auth

import "context"

// SessionProvider implements Provider for one session id. Each websocket
// connection gets its own provider so its gate observes only its own
// session's lifecycle.
type SessionProvider struct {
	service   *Service
	sessionID string
}

// NewSessionProvider binds a provider to a session id.
func NewSessionProvider(service *Service, sessionID string) *SessionProvider {
	return &SessionProvider{service: service, sessionID: sessionID}
}

// GetSession resolves the bound session, nil when signed out.
func (p *SessionProvider) GetSession(ctx context.Context) (*Session, error) {
	return p.service.SessionByID(ctx, p.sessionID)
}

// OnAuthStateChange registers a listener for this session's events.
func (p *SessionProvider) OnAuthStateChange(fn func(Event, *Session)) func() {
	return p.service.Broadcaster().Subscribe(func(event Event, sess *Session) {
		if sess == nil || sess.ID != p.sessionID {
			return
		}
		if event == EventSignedOut {
			// The gate receives nil for a terminated session.
			fn(event, nil)
			return
		}
		fn(event, sess)
	})
}

// SignOut terminates the bound session.
func (p *SessionProvider) SignOut(ctx context.Context) error {
	return p.service.SignOutByID(ctx, p.sessionID)
}
