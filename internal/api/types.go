package api

import (
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/relay"
)

// TokenRequest represents the request payload for client token issuance
type TokenRequest struct {
	ClientID  string `json:"client_id"`
	AccessKey string `json:"access_key"`
}

// TokenResponse represents the response payload for client token issuance
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// HealthResponse reports liveness and load
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Upstream string `json:"upstream"`
	Clients  int    `json:"clients"`
}

// ActiveSessionsResponse lists the sessions connected to this relay
type ActiveSessionsResponse struct {
	Sessions []relay.Status `json:"sessions"`
}

// SessionResponse combines the live status, when connected, with the stored
// record, when persisted
type SessionResponse struct {
	Live   *relay.Status           `json:"live,omitempty"`
	Record *entities.SessionRecord `json:"record,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
