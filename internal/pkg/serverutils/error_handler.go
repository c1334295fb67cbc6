package serverutils

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
)

// StatusError is implemented by service errors that know their HTTP status.
type StatusError interface {
	error
	StatusCode() int
}

// PayloadError additionally carries data for the error envelope.
type PayloadError interface {
	StatusError
	Payload() interface{}
}

// ErrorHandlerMiddleware renders errors returned by later handlers as the JSON envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}
		return WriteError(ctx, err)
	}
}

func WriteError(ctx *fiber.Ctx, err error) error {
	var (
		fiberErr   *fiber.Error
		validErr   *ValidationError
		payloadErr PayloadError
		statusErr  StatusError
	)
	switch {
	case errors.As(err, &validErr):
		return ctx.Status(fiber.StatusBadRequest).JSON(FailureResponse(fiber.StatusBadRequest, "Validation failed", validErr.Fields))
	case errors.As(err, &payloadErr) && payloadErr.Payload() != nil:
		code := payloadErr.StatusCode()
		return ctx.Status(code).JSON(FailureResponse(code, payloadErr.Error(), payloadErr.Payload()))
	case errors.As(err, &statusErr):
		code := statusErr.StatusCode()
		return ctx.Status(code).JSON(ErrorResponse(code, statusErr.Error()))
	case errors.As(err, &fiberErr):
		return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Code, fiberErr.Message))
	}
	log.Printf("unhandled error on %s %s: %v", ctx.Method(), ctx.Path(), err)
	return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(fiber.StatusInternalServerError, "Internal server error"))
}
