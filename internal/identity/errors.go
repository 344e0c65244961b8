/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAttempt is an error that happens when an operation needs a sign-in attempt but no one is created yet.
	ErrNoAttempt = errors.New("no sign-in attempt")
	// ErrUnauthenticated is an error that happens when the identity service rejects the client's key.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAttemptNotFound is an error that happens when the identity service does not know the sign-in attempt.
	ErrAttemptNotFound = errors.New("sign-in attempt not found")
	// ErrNoRedirectURL is an error that happens when the identity service does not return a provider's URL.
	ErrNoRedirectURL = errors.New("no external verification redirect URL")
	// ErrInvalidAttempt is an error that happens when the identity service returns an inconsistent sign-in attempt.
	ErrInvalidAttempt = errors.New("invalid sign-in attempt")
)

// APIError is an error that is returned by the identity service.
type APIError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	LongMessage string `json:"long_message,omitempty"`
	Meta        struct {
		ParamName string `json:"param_name,omitempty"`
	} `json:"meta"`
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.LongMessage
	if msg == "" {
		msg = e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Field returns a name of the form field the error relates to, or an empty string.
func (e *APIError) Field() string {
	return e.Meta.ParamName
}
