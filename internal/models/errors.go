package models

import "errors"

// Renewal and query failure taxonomy. Callers match with errors.Is; the
// session manager wraps renewal causes as "%w: %w" with ErrRenewalFailed so
// both the umbrella and the cause remain visible.
var (
	// ErrAutomationFailed is returned when a browser or navigation step fails
	ErrAutomationFailed = errors.New("browser automation failed")

	// ErrChallengeTimeout is returned when the solver did not finish within the poll budget
	ErrChallengeTimeout = errors.New("challenge not solved in time")

	// ErrChallengeRejected is returned when the solver reports an error status
	ErrChallengeRejected = errors.New("challenge rejected by solver")

	// ErrInsufficientBalance is returned when the solver account cannot pay for a task
	ErrInsufficientBalance = errors.New("insufficient solver balance")

	// ErrTraceNotFound is returned when no recorded request matches the pattern
	ErrTraceNotFound = errors.New("matching request not found in network trace")

	// ErrMissingHeader is returned when a required template header was never observed
	ErrMissingHeader = errors.New("required header not observed")

	// ErrMalformedCookie is returned for a cookie entry without a name=value pair
	ErrMalformedCookie = errors.New("malformed cookie entry")

	// ErrMailNotReceived is returned when the verification mail never arrived
	ErrMailNotReceived = errors.New("verification mail not received")

	ErrRenewalFailed      = errors.New("credential renewal failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrServiceBusy        = errors.New("service busy")
)
