package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/service"
)

type SessionService interface {
	Connect(ctx context.Context, userID, sessionID string) (service.ConnectionSnapshot, error)
	Disconnect(ctx context.Context, userID, sessionID string) error
	Status(userID, sessionID string) (service.ConnectionSnapshot, error)
	List(userID string) []service.ConnectionSnapshot
}

type SessionHandler struct {
	sessions SessionService
}

func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func sessionParams(c echo.Context) (string, string) {
	return strings.TrimSpace(c.Param("userId")), strings.TrimSpace(c.QueryParam("session"))
}

// POST /api/sessions/:userId/connect?session=
func (h *SessionHandler) Connect(c echo.Context) error {
	userID, sessionID := sessionParams(c)
	if userID == "" {
		return ErrorResponse(c, http.StatusBadRequest, "userId is required", "VALIDATION_ERROR", "")
	}

	snap, err := h.sessions.Connect(c.Request().Context(), userID, sessionID)
	if err != nil {
		var connErr *service.ConnectionError
		if errors.As(err, &connErr) {
			return ErrorResponse(c, http.StatusBadGateway, "Failed to connect session", "CONNECT_FAILED", err.Error())
		}
		log.Error().Err(err).Str("user_id", userID).Msg("connect failed")
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to connect session", "INTERNAL_ERROR", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Session connecting", snap)
}

// POST /api/sessions/:userId/disconnect?session=
func (h *SessionHandler) Disconnect(c echo.Context) error {
	userID, sessionID := sessionParams(c)
	if userID == "" {
		return ErrorResponse(c, http.StatusBadRequest, "userId is required", "VALIDATION_ERROR", "")
	}

	if err := h.sessions.Disconnect(c.Request().Context(), userID, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to disconnect session", "INTERNAL_ERROR", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Session disconnected", map[string]interface{}{
		"userId":    userID,
		"sessionId": sessionID,
	})
}

// GET /api/sessions/:userId/status?session=
func (h *SessionHandler) Status(c echo.Context) error {
	userID, sessionID := sessionParams(c)

	snap, err := h.sessions.Status(userID, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "Please connect first")
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to get status", "INTERNAL_ERROR", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Session status", snap)
}

// GET /api/sessions/:userId
func (h *SessionHandler) List(c echo.Context) error {
	userID, _ := sessionParams(c)
	sessions := h.sessions.List(userID)

	return SuccessResponse(c, http.StatusOK, "Sessions retrieved", map[string]interface{}{
		"userId":   userID,
		"total":    len(sessions),
		"sessions": sessions,
	})
}
