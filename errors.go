package mcauth

import (
	"errors"
	"fmt"
)

var (
	ErrTransport           = errors.New("transport failure")
	ErrDecode              = errors.New("unexpected response body")
	ErrAuthDeclined        = errors.New("authorization declined")
	ErrGrantExpired        = errors.New("device code expired")
	ErrInvalidGrant        = errors.New("invalid grant")
	ErrUnexpectedStatus    = errors.New("unexpected response status")
	ErrPrerequisiteMissing = errors.New("prerequisite step missing")
	ErrMalformedClaims     = errors.New("malformed display claims")

	// ErrStepCompleted is returned when a step is invoked again after the
	// flow has already moved past it.
	ErrStepCompleted = errors.New("step already completed")
	// ErrSessionFailed is returned by every step once a terminal error has
	// been recorded. Reset the flow to start over.
	ErrSessionFailed = errors.New("login flow failed")
)

// TransportError is a network or connection failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// DecodeError means the response body did not have the expected shape.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decoding response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// OAuthError is the error body returned by the identity provider.
type OAuthError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s (status %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Code, e.StatusCode, e.Description)
}

// Rejection names the reason the identity provider ended a device-code flow.
type Rejection string

const (
	RejectDeclined     Rejection = "authorization_declined"
	RejectExpired      Rejection = "expired_token"
	RejectInvalidGrant Rejection = "invalid_grant"
)

var rejectionSentinels = map[Rejection]error{
	RejectDeclined:     ErrAuthDeclined,
	RejectExpired:      ErrGrantExpired,
	RejectInvalidGrant: ErrInvalidGrant,
}

// TerminalAuthError is an explicit rejection of the device-code flow. Polling
// stops when one is received.
type TerminalAuthError struct {
	Reason Rejection
	// Local is set when the rejection was decided without asking the
	// provider, e.g. the grant lifetime elapsed between polls.
	Local bool
}

func (e *TerminalAuthError) Error() string {
	if e.Local {
		return fmt.Sprintf("device code flow rejected: %s (lifetime elapsed)", e.Reason)
	}
	return fmt.Sprintf("device code flow rejected: %s", e.Reason)
}

func (e *TerminalAuthError) Is(target error) bool {
	return rejectionSentinels[e.Reason] == target
}

// UnexpectedStatusError carries an HTTP status the caller does not handle.
type UnexpectedStatusError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *UnexpectedStatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: unexpected response code: %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected response code: %d: %s", e.Op, e.StatusCode, e.Detail)
}

func (e *UnexpectedStatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// PrerequisiteMissingError is returned when a step runs before the step it
// depends on has succeeded.
type PrerequisiteMissingError struct {
	Step Step
	Have State
}

func (e *PrerequisiteMissingError) Error() string {
	return fmt.Sprintf("cannot run %s: flow is in state %s, requires %s", e.Step, e.Have, e.Step.requires())
}

func (e *PrerequisiteMissingError) Is(target error) bool {
	return target == ErrPrerequisiteMissing
}

// MalformedClaimsError reports a display-claims path that is absent or has
// the wrong shape.
type MalformedClaimsError struct {
	Path   string
	Reason string
}

func (e *MalformedClaimsError) Error() string {
	return fmt.Sprintf("malformed display claims at %s: %s", e.Path, e.Reason)
}

func (e *MalformedClaimsError) Is(target error) bool {
	return target == ErrMalformedClaims
}

// sessionFailedError pairs ErrSessionFailed with the error that ended the
// flow so both match errors.Is.
type sessionFailedError struct {
	cause error
}

func (e *sessionFailedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrSessionFailed, e.cause)
}

func (e *sessionFailedError) Is(target error) bool {
	return target == ErrSessionFailed
}

func (e *sessionFailedError) Unwrap() error {
	return e.cause
}
