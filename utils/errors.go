package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy surfaced to the presentation layer. Services wrap these with
// fmt.Errorf("%w: ...") and callers match them with errors.Is.
var (
	// Gateway-originated; the user may retry.
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrChallengeExpired   = errors.New("verification challenge expired")
	ErrNetworkFailure     = errors.New("network failure")

	ErrRoleMismatch = errors.New("role mismatch")

	// Linking-code redemption.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyLinked = errors.New("already linked")

	ErrRegistrationFailed = errors.New("registration failed")
	ErrReauthRequired     = errors.New("re-authentication required")
	ErrWorkflowState      = errors.New("registration workflow not in a usable state")

	// HTTP surface.
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
)

type errorInfo struct {
	status  int
	code    string
	message string
}

var taxonomy = []struct {
	err  error
	info errorInfo
}{
	{ErrRateLimited, errorInfo{http.StatusTooManyRequests, "rate_limited", "Too many verification attempts. Please wait a moment and request a new code."}},
	{ErrInvalidPhoneNumber, errorInfo{http.StatusBadRequest, "invalid_phone_number", "That phone number doesn't look right. Check the number and try again."}},
	{ErrInvalidCode, errorInfo{http.StatusUnauthorized, "invalid_code", "The code you entered is incorrect. Check the SMS and try again."}},
	{ErrChallengeExpired, errorInfo{http.StatusGone, "challenge_expired", "This code has expired. Request a new code to continue."}},
	{ErrNetworkFailure, errorInfo{http.StatusBadGateway, "network_failure", "We couldn't reach the verification service. Check your connection and try again."}},
	{ErrRoleMismatch, errorInfo{http.StatusForbidden, "role_mismatch", "This phone number is registered under a different account type. Sign in with the matching role."}},
	{ErrAlreadyLinked, errorInfo{http.StatusConflict, "already_linked", "You are already linked to this senior."}},
	{ErrNotFound, errorInfo{http.StatusNotFound, "not_found", "We couldn't find a match. Check the details and try again."}},
	{ErrRegistrationFailed, errorInfo{http.StatusInternalServerError, "registration_failed", "Registration could not be completed and nothing was saved. Please start the registration again."}},
	{ErrWorkflowState, errorInfo{http.StatusConflict, "workflow_inactive", "This registration is no longer active or is still being processed. Check its status or start a new one."}},
	{ErrReauthRequired, errorInfo{http.StatusUnauthorized, "reauth_required", "Please sign in again to continue."}},
	{ErrUnauthorized, errorInfo{http.StatusUnauthorized, "unauthorized", "Your session is no longer valid. Please sign in again."}},
	{ErrConflict, errorInfo{http.StatusConflict, "conflict", "This phone number already has an account."}},
	{ErrBadRequest, errorInfo{http.StatusBadRequest, "bad_request", "Some of the submitted details are missing or invalid."}},
}

func lookup(err error) (errorInfo, bool) {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.info, true
		}
	}
	return errorInfo{}, false
}

// Classified reports whether err wraps one of the taxonomy errors.
func Classified(err error) bool {
	_, ok := lookup(err)
	return ok
}

// AsNetworkFailure wraps err with ErrNetworkFailure unless it is already classified.
func AsNetworkFailure(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	if info, ok := lookup(err); ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// ErrorCode returns the stable machine-readable code for err.
func ErrorCode(err error) string {
	if info, ok := lookup(err); ok {
		return info.code
	}
	return "internal"
}

// UserMessage returns the actionable message shown to the user for err.
func UserMessage(err error) string {
	if info, ok := lookup(err); ok {
		return info.message
	}
	return "An unexpected error occurred. Please try again later."
}
