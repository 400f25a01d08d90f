package switchpoint

import (
	"net/http"
)

// HTTPDoer is an interface for making HTTP requests.
// It is implemented by *http.Client and can be mocked in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxLabelLen is the maximum allowed event label length
const maxLabelLen = 512

// ValidateLabel validates an event label.
func ValidateLabel(label string) error {
	if len(label) > maxLabelLen {
		return newInputError("event.label", "label exceeds maximum length")
	}
	// Check for control characters
	for _, r := range label {
		if r < 32 && r != '\t' {
			return newInputError("event.label", "label contains control characters")
		}
	}
	return nil
}
