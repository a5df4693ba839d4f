package utils

import (
	"net/http"

	"slotkeeper/apperrors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse defines the structure of error responses
type ErrorResponse struct {
	Message   string                     `json:"message"`
	Details   string                     `json:"details,omitempty"`
	Kind      apperrors.Kind             `json:"kind,omitempty"`
	Conflicts []apperrors.ConflictDetail `json:"conflicts,omitempty"`
}

// ErrorHandler is a middleware to catch panics and return structured errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				Logger := GetLogger()
				Logger.Error("Unhandled panic", zap.Any("error", err))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Message: "Internal Server Error",
					Details: "An unexpected error occurred. Please try again later.",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// JSONError sends a standardized JSON error response
func JSONError(c *gin.Context, status int, message string, details string) {
	Logger := GetLogger()
	Logger.Warn(message, zap.String("details", details))
	c.JSON(status, ErrorResponse{Message: message, Details: details})
}

// RespondError maps a service error onto its status code. Conflicts carry the
// clashing slots and bookings; internal failures hide their cause.
func RespondError(c *gin.Context, message string, err error) {
	status := apperrors.HTTPStatus(err)
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal {
		GetLogger().Error(message, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, ErrorResponse{Message: message, Kind: kind, Details: "An unexpected error occurred. Please try again later."})
		return
	}
	GetLogger().Debug(message, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(status, ErrorResponse{
		Message:   message,
		Details:   err.Error(),
		Kind:      kind,
		Conflicts: apperrors.ConflictsOf(err),
	})
}
