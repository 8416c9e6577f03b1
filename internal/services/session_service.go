package services

import (
	"time"

	"github.com/example/pixaccess/internal/utils"
)

// DefaultSessionTTL is how long an issued session stays valid.
const DefaultSessionTTL = 30 * 24 * time.Hour

// SessionManager issues and verifies stateless session tokens.
type SessionManager struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager creates a SessionManager. A zero ttl falls back to DefaultSessionTTL.
func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// TTL returns the session lifetime, used for the cookie Max-Age.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a session for the customer.
func (m *SessionManager) Issue(customerID uint, phone string) (string, error) {
	return utils.GenerateSessionToken(m.secret, utils.SessionClaims{
		CustomerID: customerID,
		Phone:      phone,
	}, m.now(), m.ttl)
}

// Verify returns the claims of a valid, unexpired session.
func (m *SessionManager) Verify(token string) (*utils.SessionClaims, error) {
	return utils.ParseSessionToken(m.secret, token, m.now())
}
