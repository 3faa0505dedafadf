package gemini

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/vai-coach/pkg/core"
)

const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// mapError converts a genai error into core.Error, keeping the original as the
// provider error so its text (including any retryDelay hint) stays reachable.
func mapError(err error, model string) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return &core.Error{
			Type:          core.ErrProvider,
			Message:       err.Error(),
			Model:         model,
			ProviderError: err,
		}
	}

	errType := typeForStatus(apiErr.Status)
	if apiErr.Code != 0 {
		errType = core.ErrorTypeForStatus(apiErr.Code)
	}

	out := &core.Error{
		Type:          errType,
		Message:       strings.TrimSpace(apiErr.Message),
		Code:          apiErr.Status,
		Status:        apiErr.Code,
		Model:         model,
		ProviderError: err,
	}
	if out.Message == "" {
		out.Message = fmt.Sprintf("gemini request failed with status %d", apiErr.Code)
	}
	if errType == core.ErrRateLimit {
		delay := retryDelayFromDetails(apiErr.Details)
		if delay <= 0 {
			delay = core.ParseRetryDelay(err.Error())
		}
		if secs := int(delay / time.Second); secs > 0 {
			out.RetryAfter = &secs
		}
	}
	return out
}

// typeForStatus maps a google.rpc status string when no HTTP code is present.
func typeForStatus(status string) core.ErrorType {
	switch status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return core.ErrInvalidRequest
	case "UNAUTHENTICATED":
		return core.ErrAuthentication
	case "PERMISSION_DENIED":
		return core.ErrPermission
	case "NOT_FOUND":
		return core.ErrNotFound
	case "RESOURCE_EXHAUSTED":
		return core.ErrRateLimit
	case "UNAVAILABLE":
		return core.ErrOverloaded
	case "INTERNAL":
		return core.ErrAPI
	default:
		return core.ErrProvider
	}
}

func retryDelayFromDetails(details []map[string]any) time.Duration {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if raw == "" {
			continue
		}
		if dur, err := time.ParseDuration(raw); err == nil {
			return dur
		}
	}
	return 0
}
