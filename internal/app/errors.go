package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errUnauthenticated() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Sign in required.", nil)
}

func errSuspended() *DomainError {
	return domainError(http.StatusForbidden, "SUSPENDED", "This account is restricted.", nil)
}

func errNotOwner(message string) *DomainError {
	return domainError(http.StatusForbidden, "NOT_OWNER", message, nil)
}

func errWrongState(message string) *DomainError {
	return domainError(http.StatusConflict, "WRONG_STATE", message, nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION", message, nil)
}

func errRateLimited(message string, details any) *DomainError {
	return domainError(http.StatusTooManyRequests, "RATE_LIMITED", message, details)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}
