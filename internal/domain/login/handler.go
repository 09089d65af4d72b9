package login

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/domain/authn"
	"github.com/ehr/ehrlogin/internal/domain/picker"
	"github.com/ehr/ehrlogin/internal/domain/provider"
	"github.com/ehr/ehrlogin/internal/domain/session"
	"github.com/ehr/ehrlogin/internal/platform/audit"
	"github.com/ehr/ehrlogin/internal/platform/auth"
	"github.com/ehr/ehrlogin/internal/platform/openmrs"
	"github.com/ehr/ehrlogin/pkg/pagination"
)

type Handler struct {
	svc    *Service
	issuer *auth.Issuer
	logger zerolog.Logger
}

func NewHandler(svc *Service, issuer *auth.Issuer, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, issuer: issuer, logger: logger}
}

// RegisterRoutes mounts the login endpoint on api, behind loginMW, and the
// workflow endpoints behind the workflow token check.
func (h *Handler) RegisterRoutes(api *echo.Group, loginMW ...echo.MiddlewareFunc) {
	api.POST("/login", h.Login, loginMW...)

	wf := api.Group("/workflows/:id", auth.RequireWorkflow(h.issuer))
	wf.GET("", h.GetPicker)
	wf.PUT("/mode", h.ChooseMode)
	wf.PUT("/clinic", h.SelectClinic)
	wf.PUT("/selection", h.Select)
	wf.POST("/submit", h.Submit)
	wf.POST("/reset", h.Reset)
	wf.GET("/confirm", h.Confirm)
	wf.GET("/session", h.GetSession)
	wf.GET("/assignments", h.ListAssignments)
	wf.POST("/logout", h.Logout)
}

type modeRequest struct {
	Mode picker.OptionID `json:"mode"`
}

type locationRequest struct {
	Location string `json:"location"`
}

type redirectResponse struct {
	Redirect string `json:"redirect"`
}

// -- Login --

func (h *Handler) Login(c echo.Context) error {
	var creds Credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.svc.Login(c.Request().Context(), creds)
	if errors.Is(err, authn.ErrInvalidCredentials) {
		// the client resets its form to these values
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"error": err.Error(),
			"form":  Credentials{},
		})
	}
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Picker --

func (h *Handler) GetPicker(c echo.Context) error {
	snap, err := h.svc.Picker(c.Param("id"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ChooseMode(c echo.Context) error {
	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.ChooseMode(c.Request().Context(), c.Param("id"), req.Mode)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) SelectClinic(c echo.Context) error {
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.SelectClinic(c.Request().Context(), c.Param("id"), req.Location)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) Select(c echo.Context) error {
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.Select(c.Param("id"), req.Location)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Submit answers 200 with the snapshot when the write or commit fails; the
// snapshot is back in ready with the failure set so the client can retry.
func (h *Handler) Submit(c echo.Context) error {
	snap, err := h.svc.Submit(c.Request().Context(), c.Param("id"))
	if err != nil && isGuardError(err) {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) Reset(c echo.Context) error {
	snap, err := h.svc.Reset(c.Param("id"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// -- Session --

func (h *Handler) Confirm(c echo.Context) error {
	url, err := h.svc.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, redirectResponse{Redirect: url})
}

func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.svc.Session(c.Param("id"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	page := pagination.FromContext(c)
	events, hasMore, err := h.svc.Assignments(c.Request().Context(), c.Param("id"), page)
	if err != nil {
		return h.httpError(c, err)
	}
	if events == nil {
		events = []*audit.Event{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, page, hasMore))
}

func (h *Handler) Logout(c echo.Context) error {
	claims := auth.ClaimsFromContext(c.Request().Context())
	url, err := h.svc.Logout(c.Request().Context(), c.Param("id"), claims)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, redirectResponse{Redirect: url})
}

// -- Errors --

func isGuardError(err error) bool {
	for _, target := range []error{
		ErrWorkflowNotFound,
		picker.ErrNoMode,
		picker.ErrNotReady,
		picker.ErrSelectionRequired,
		picker.ErrSubmitInFlight,
		picker.ErrCompleted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *Handler) httpError(c echo.Context, err error) error {
	var apiErr *openmrs.APIError
	switch {
	case errors.Is(err, ErrWorkflowNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, provider.ErrProviderNotFound),
		errors.Is(err, picker.ErrSubmitInFlight),
		errors.Is(err, picker.ErrCompleted),
		errors.Is(err, picker.ErrNotReady),
		errors.Is(err, session.ErrNoLocation):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, picker.ErrUnknownMode),
		errors.Is(err, picker.ErrNoMode),
		errors.Is(err, picker.ErrInvalidSelection),
		errors.Is(err, picker.ErrSelectionRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "backend did not respond in time")
	case errors.As(err, &apiErr):
		h.logger.Warn().Err(err).Str("path", c.Path()).Msg("backend request failed")
		return echo.NewHTTPError(http.StatusBadGateway, "backend request failed")
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
