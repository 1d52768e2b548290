package client

import (
	"errors"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
)

const genericFailure = "Something went wrong. Please try again."

// messageOf renders err as the short message shown next to a control.
func messageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return genericFailure
}
