package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/metrics"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/validation"
	"github.com/zepph7/christmas-surprise/pkg/workflow"
)

type handlers struct {
	sessions *workflow.Sessions
	client   ClientConfig
}

type nameRequest struct {
	Name string `json:"name"`
}

type nameResponse struct {
	Validation models.ValidationResult `json:"validation"`
	View       workflow.FormView       `json:"view"`
}

type locationRequest struct {
	ManualLocation string               `json:"manual_location" validate:"max=200"`
	Device         *models.DeviceReport `json:"device"`
}

type submitRequest struct {
	Name           string               `json:"name"            validate:"personname"`
	ManualLocation string               `json:"manual_location" validate:"max=200"`
	Device         *models.DeviceReport `json:"device"`
}

func (h *handlers) controller(c echo.Context) *workflow.Controller {
	return h.sessions.Get(sessionID(c))
}

func (h *handlers) config(c echo.Context) error {
	return c.JSON(http.StatusOK, h.client)
}

func (h *handlers) view(c echo.Context) error {
	return c.JSON(http.StatusOK, h.controller(c).View())
}

func (h *handlers) name(c echo.Context) error {
	var req nameRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}

	ctrl := h.controller(c)
	res := ctrl.CheckName(req.Name)
	return c.JSON(http.StatusOK, nameResponse{Validation: res, View: ctrl.View()})
}

func (h *handlers) location(c echo.Context) error {
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return validationError(err)
	}

	res, err := h.controller(c).ResolveLocation(c.Request().Context(), workflow.Request{
		Manual:   req.ManualLocation,
		Device:   req.Device,
		ClientIP: c.RealIP(),
	})
	if errors.Is(err, workflow.ErrInFlight) {
		return echo.NewHTTPError(http.StatusConflict, Error{Message: err.Error()})
	}
	if err != nil {
		return err
	}

	metrics.RecordLocation(string(res.Source))
	return c.JSON(http.StatusOK, res)
}

func (h *handlers) submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed request body")
	}
	// An invalid name alone still goes to the controller, which reports it on the form.
	if err := c.Validate(&req); err != nil {
		fields := validation.FieldErrors(err)
		if _, nameFailed := fields["name"]; !nameFailed || len(fields) > 1 {
			return validationError(err)
		}
	}

	id := sessionID(c)
	out, err := h.sessions.Get(id).Submit(c.Request().Context(), workflow.Request{
		Name:     req.Name,
		Manual:   req.ManualLocation,
		Device:   req.Device,
		ClientIP: c.RealIP(),
	})
	if errors.Is(err, workflow.ErrInFlight) {
		metrics.RecordSubmission(metrics.OutcomeInFlight)
		return echo.NewHTTPError(http.StatusConflict, Error{Message: err.Error()})
	}
	if err != nil {
		return err
	}

	if out.Resolution != nil {
		metrics.RecordLocation(string(out.Resolution.Source))
	}

	switch {
	case !out.Accepted:
		metrics.RecordSubmission(metrics.OutcomeInvalid)
		return c.JSON(http.StatusUnprocessableEntity, out)
	case out.Delivered:
		metrics.RecordSubmission(metrics.OutcomeDelivered)
		logger.Info("Delivered submission for session %s", id)
	case out.Result == nil:
		metrics.RecordSubmission(metrics.OutcomePanic)
	default:
		metrics.RecordSubmission(metrics.OutcomeRejected)
		logger.Warn("Relay rejected submission for session %s: %s", id, out.Result.Message)
	}
	return c.JSON(http.StatusOK, out)
}
