package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"

	"github.com/hurricanerix/tagweave/internal/comfy"
	"github.com/hurricanerix/tagweave/internal/config"
	"github.com/hurricanerix/tagweave/internal/image"
	"github.com/hurricanerix/tagweave/internal/ollama"
	"github.com/hurricanerix/tagweave/internal/openaicompat"
	"github.com/hurricanerix/tagweave/internal/persistence"
	"github.com/hurricanerix/tagweave/internal/pipeline"
	"github.com/hurricanerix/tagweave/internal/sanitize"
	"github.com/hurricanerix/tagweave/internal/settings"
	"github.com/hurricanerix/tagweave/internal/textgen"
	"github.com/hurricanerix/tagweave/internal/workflow"
)

var (
	errBadRequest   = errors.New("invalid request body")
	errBodyTooLarge = errors.New("request body too large")
	errTooLong      = errors.New("message too long")
	errMissingText  = errors.New("message text required")
)

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBodyTooLarge), errors.Is(err, errTooLong):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, errBadRequest),
		errors.Is(err, errMissingText),
		errors.Is(err, pipeline.ErrURLNotSet),
		errors.Is(err, pipeline.ErrNoActiveChat),
		errors.Is(err, pipeline.ErrEmptyInstruction),
		errors.Is(err, pipeline.ErrInvalidScene),
		errors.Is(err, config.ErrUnknownMode),
		errors.Is(err, textgen.ErrUnknownPreset),
		errors.Is(err, workflow.ErrInvalidName),
		errors.Is(err, workflow.ErrInvalidJSON),
		errors.Is(err, settings.ErrInvalidCharacter),
		errors.Is(err, image.ErrInvalidID),
		errors.Is(err, persistence.ErrInvalidPath):
		return http.StatusBadRequest

	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, image.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, pipeline.ErrChatChanged):
		return http.StatusConflict

	case errors.Is(err, sanitize.ErrEmptyOutput), errors.Is(err, textgen.ErrEmptyReply):
		return http.StatusUnprocessableEntity

	case errors.Is(err, comfy.ErrNotRunning),
		errors.Is(err, comfy.ErrConnectionFailed),
		errors.Is(err, ollama.ErrNotRunning),
		errors.Is(err, ollama.ErrConnectionFailed),
		errors.Is(err, ollama.ErrModelNotFound),
		errors.Is(err, openaicompat.ErrConnectionFailed):
		return http.StatusServiceUnavailable

	case errors.Is(err, comfy.ErrConnectionTimeout),
		errors.Is(err, ollama.ErrConnectionTimeout),
		errors.Is(err, openaicompat.ErrConnectionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, comfy.ErrRejected),
		errors.Is(err, comfy.ErrExecutionFailed),
		errors.Is(err, comfy.ErrRequestFailed),
		errors.Is(err, comfy.ErrNoImage),
		errors.Is(err, ollama.ErrRequestFailed),
		errors.Is(err, openaicompat.ErrRequestFailed),
		errors.Is(err, openaicompat.ErrNoChoices):
		return http.StatusBadGateway
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
