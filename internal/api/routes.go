package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/auth"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/websocket"
)

// Deps are the collaborators of the HTTP surface. Issuer and Records may be
// nil, which disables authentication and record lookups.
type Deps struct {
	Hub       *websocket.Hub
	Issuer    *auth.Issuer
	AccessKey string
	Records   repositories.SessionRepository
	Upstream  string
	Logger    *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, d Deps) {
	h := &handlers{Deps: d}

	e.GET("/health", h.health)

	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)
	v1.GET("/sessions/active", h.activeSessions)
	v1.GET("/sessions/:id", h.session)

	e.GET("/ws", h.connect)
}

type handlers struct {
	Deps
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Service:  "dawayir-relay",
		Upstream: h.Upstream,
		Clients:  h.Hub.Count(),
	})
}

func (h *handlers) issueToken(c echo.Context) error {
	if h.Issuer == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Token issuance is not configured",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		h.Logger.Debug("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if h.AccessKey != "" && subtle.ConstantTimeCompare([]byte(req.AccessKey), []byte(h.AccessKey)) != 1 {
		h.Logger.Warn("Token request rejected: bad access key", zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid access key",
		})
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	token, expiresAt, err := h.Issuer.GenerateClientToken(clientID)
	if err != nil {
		h.Logger.Error("Failed to generate client token", zap.String("client_id", clientID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.Logger.Info("Client token issued", zap.String("client_id", clientID))
	return c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt, ClientID: clientID})
}

func (h *handlers) activeSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, ActiveSessionsResponse{Sessions: h.Hub.Sessions()})
}

func (h *handlers) session(c echo.Context) error {
	id := c.Param("id")
	var resp SessionResponse
	if st, ok := h.Hub.Session(id); ok {
		resp.Live = &st
	}
	if h.Records != nil {
		rec, err := h.Records.GetByID(c.Request().Context(), id)
		switch {
		case err == nil:
			resp.Record = rec
		case errors.Is(err, repositories.ErrNotFound):
		default:
			h.Logger.Error("Failed to load session record", zap.String("session_id", id), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "storage_error",
				Message: "Failed to load session",
			})
		}
	}
	if resp.Live == nil && resp.Record == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Session not found"})
	}
	return c.JSON(http.StatusOK, resp)
}

// connect accepts a token from the Authorization header or, for browsers
// that cannot set headers on upgrade requests, the token query parameter.
func (h *handlers) connect(c echo.Context) error {
	if h.Issuer == nil {
		return websocket.HandleWebSocket(h.Hub, c, "")
	}

	token := c.QueryParam("token")
	if authHeader := c.Request().Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}

	if token == "" {
		h.Logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required",
		})
	}

	claims, err := h.Issuer.ValidateToken(token)
	if err != nil {
		h.Logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	h.Logger.Info("WebSocket connection authenticated", zap.String("client_id", claims.ClientID))
	return websocket.HandleWebSocket(h.Hub, c, claims.ClientID)
}
