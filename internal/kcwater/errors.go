package kcwater

import (
	"errors"
	"fmt"
)

// ErrorKind classifies API client failures.
type ErrorKind int

const (
	// KindClient is the fallback for unexpected payloads and unclassified failures.
	KindClient ErrorKind = iota
	// KindAuthentication covers rejected credentials and token refresh failures.
	KindAuthentication
	// KindCommunication covers timeouts, DNS/connect failures and transport-level HTTP errors.
	KindCommunication
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindCommunication:
		return "communication"
	default:
		return "client"
	}
}

// Error is the error type returned by the KC Water API client.
// It carries a kind tag, a message and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kcwater %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("kcwater %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newAuthenticationError(message string, cause error) *Error {
	return &Error{Kind: KindAuthentication, Message: message, Err: cause}
}

func newCommunicationError(message string, cause error) *Error {
	return &Error{Kind: KindCommunication, Message: message, Err: cause}
}

func newClientError(message string, cause error) *Error {
	return &Error{Kind: KindClient, Message: message, Err: cause}
}

func isKind(err error, kind ErrorKind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// IsAuthentication reports whether err is an authentication error.
func IsAuthentication(err error) bool {
	return isKind(err, KindAuthentication)
}

// IsCommunication reports whether err is a communication error.
func IsCommunication(err error) bool {
	return isKind(err, KindCommunication)
}
