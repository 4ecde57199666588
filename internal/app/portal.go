package app

import (
	"context"
	"log"
	"strings"

	"opsdesk/api/internal/auth"
	"opsdesk/api/internal/store"
)

// CreatePortalSession exchanges a valid quote link for a portal session. The
// session only reaches the quote behind that link.
func (s *Service) CreatePortalSession(ctx context.Context, token string) (map[string]any, error) {
	q, err := s.resolveQuote(ctx, token, msgInvalidAccessToken)
	if err != nil {
		return nil, err
	}

	sessionToken, err := auth.NewAccessToken()
	if err != nil {
		return nil, err
	}
	session := store.PortalSession{
		CustomerID: q.CustomerID,
		QuoteID:    q.ID,
		ExpiresAt:  s.clock().Add(s.cfg.PortalSessionTTL),
	}
	if err := s.sessions.SavePortalSession(ctx, auth.HashToken(sessionToken), session); err != nil {
		return nil, err
	}

	log.Printf("portal: session %s opened for customer %s quote %s", auth.Preview(sessionToken), q.CustomerID, q.ID)
	return map[string]any{
		"session_token": sessionToken,
		"customer_id":   session.CustomerID,
		"quote_id":      session.QuoteID,
		"expires_at":    session.ExpiresAt,
	}, nil
}

func (s *Service) RevokePortalSession(ctx context.Context, sessionToken string) (map[string]any, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil, unauthorized("Unauthorized")
	}
	if err := s.sessions.RevokePortalSession(ctx, auth.HashToken(sessionToken)); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// PortalSession returns the session behind a portal bearer token. Any
// lookup failure is reported as 401.
func (s *Service) PortalSession(ctx context.Context, sessionToken string) (store.PortalSession, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return store.PortalSession{}, unauthorized("Unauthorized")
	}
	session, err := s.sessions.LookupPortalSession(ctx, auth.HashToken(sessionToken))
	if err != nil {
		return store.PortalSession{}, unauthorized("Unauthorized")
	}
	if session.QuoteID == "" || !session.ExpiresAt.After(s.clock()) {
		return store.PortalSession{}, unauthorized("Unauthorized")
	}
	return session, nil
}
