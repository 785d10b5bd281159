package payment

import (
	"context"
	"sync"

	"course-progression-engine/internal/app"
)

// StaticGateway serves checkout sessions from memory (useful for tests/demos).
type StaticGateway struct {
	mu       sync.RWMutex
	sessions map[string]app.PaymentStatus
}

func NewStaticGateway() *StaticGateway {
	return &StaticGateway{sessions: make(map[string]app.PaymentStatus)}
}

// Confirm marks sessionID as paid by email.
func (g *StaticGateway) Confirm(sessionID, email string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionID] = app.PaymentStatus{SessionID: sessionID, Email: email, Confirmed: true}
}

func (g *StaticGateway) CheckoutSession(_ context.Context, sessionID string) (app.PaymentStatus, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.sessions[sessionID]; ok {
		return s, nil
	}
	return app.PaymentStatus{SessionID: sessionID}, nil
}
