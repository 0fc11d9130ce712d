package serverutils

import (
	"errors"

	"bioai-workspace-be/internal/pkg/apperror"

	"github.com/gofiber/fiber/v2"
)

// StatusOf maps the error taxonomy onto HTTP status codes.
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch apperror.KindOf(err) {
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindUnauthorized:
		return fiber.StatusForbidden
	case apperror.KindValidation:
		return fiber.StatusUnprocessableEntity
	case apperror.KindIntegrity:
		return fiber.StatusConflict
	case apperror.KindNetwork, apperror.KindPluginUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler is the fiber error handler for the whole app.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := StatusOf(err)
	body := ErrorResponse(code, err.Error())
	body.Kind = string(apperror.KindOf(err))
	var ve *ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Fields
	}
	if code == fiber.StatusInternalServerError {
		body.Message = "internal server error"
	}
	return ctx.Status(code).JSON(body)
}

// ErrorHandlerMiddleware renders errors returned by later handlers so that
// middleware registered before it sees the final status.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if err := ctx.Next(); err != nil {
			return ErrorHandler(ctx, err)
		}
		return nil
	}
}
