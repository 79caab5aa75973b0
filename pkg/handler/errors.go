package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		vf *service.ValidationFailure
		pe *service.ComparisonPreconditionError
	)
	switch {
	case errors.Is(err, service.ErrBranchDecisionPending),
		errors.Is(err, service.ErrComparisonBusy),
		errors.Is(err, service.ErrComparisonLoading):
		return http.StatusConflict
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrBranchNotFound),
		errors.Is(err, service.ErrEntryNotFound),
		errors.Is(err, service.ErrResultNotFound),
		errors.Is(err, service.ErrVersionNotFound),
		errors.Is(err, service.ErrQuickActionNotFound),
		errors.Is(err, service.ErrTemplateNotFound),
		errors.Is(err, service.ErrUnknownExportReq):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrMessageIndex),
		errors.Is(err, service.ErrResultNotUsable),
		errors.Is(err, service.ErrCustomModelID),
		errors.As(err, &pe):
		return http.StatusBadRequest
	case errors.As(err, &vf):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrExportTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrCanvasLoad):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, models.Response{Code: status, Message: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.Response{Code: http.StatusBadRequest, Message: "Invalid request: " + err.Error()})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, models.Response{Code: http.StatusOK, Message: "OK", Data: data})
}
