package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/impact"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/internal/services"
	"github.com/huangang/aiusage/internal/spreadsheet"
	"github.com/huangang/aiusage/pkg/logger"
	"github.com/huangang/aiusage/pkg/response"
)

// toAppError maps service errors onto HTTP statuses.
func toAppError(err error) *response.AppError {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var replErr *services.ReplacementError
	switch {
	case errors.As(err, &replErr):
		appErr = response.NewUnprocessable(err.Error())
		appErr.Details = gin.H{"problems": replErr.Problems}
		return appErr
	case errors.Is(err, services.ErrConfigReplacement),
		errors.Is(err, spreadsheet.ErrUnreadable),
		errors.Is(err, spreadsheet.ErrMissingSheet):
		return response.NewUnprocessable(err.Error())
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, impact.ErrInvalidEntry),
		errors.Is(err, models.ErrInvalidToolRef):
		return response.NewBadRequest(err.Error())
	case errors.Is(err, services.ErrNotFound):
		return response.NewNotFound(err.Error())
	case errors.Is(err, services.ErrConflict):
		return response.NewConflict(err.Error())
	}

	logger.Error().Err(err).Msg("[API] Request failed")
	return response.NewServerError(err.Error())
}

func fail(c *gin.Context, err error) {
	response.Error(c, toAppError(err))
}

// bindFailed reports a ShouldBind error, translating validator messages.
func bindFailed(c *gin.Context, err error) {
	response.BadRequest(c, services.TranslateValidation(err).Error())
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
