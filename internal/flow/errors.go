/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"errors"
	"fmt"

	"gopkg.i-core.ru/signflow/internal/identity"
)

var (
	// ErrAlreadySignedIn is an error that happens when a user with an active session opens the sign-in
	// and only one session is allowed.
	ErrAlreadySignedIn = errors.New("already signed in")
	// ErrUnknownState is an error that happens when the sign-in attempt and the URL disagree.
	ErrUnknownState = errors.New("unknown sign-in state")
	// ErrUnknownNavigation is an error that happens when a third-party callback resolves to an unknown URL.
	ErrUnknownNavigation = errors.New("unknown navigation event")
)

// InvalidStrategyError is an error that happens when a factor is attempted with a strategy
// the step does not support. It is a defect, not a user's mistake.
type InvalidStrategyError struct {
	Step     Step
	Strategy identity.Strategy
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("invalid strategy %q for %s", e.Strategy, e.Step)
}

// MissingFieldError is an error that happens when a required form field is empty.
type MissingFieldError struct {
	Name string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("field %q is required", e.Name)
}

// Field returns a name of the missing field.
func (e *MissingFieldError) Field() string {
	return e.Name
}
