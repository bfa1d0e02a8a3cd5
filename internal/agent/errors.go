package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured means no agent backend is configured.
	ErrNotConfigured = errors.New("agent not configured")

	// ErrFatalAPI marks upstream errors that retrying will not fix
	// (credentials, quota, billing).
	ErrFatalAPI = errors.New("fatal API error")

	// ErrThreadNotFound is returned for unknown thread ids.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
)

var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}

// runErrorFor converts a generation error into the detail stored on a
// failed run.
func runErrorFor(err error) *RunError {
	code := "server_error"
	if isFatalAPIError(err) {
		code = "fatal_api_error"
	}
	return &RunError{Code: code, Message: err.Error()}
}
