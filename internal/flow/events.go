/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"gopkg.i-core.ru/signflow/internal/identity"
)

// Event is a message that is accepted by one of the flow's machines.
type Event interface {
	eventType() string
}

// Step is a stage of the sign-in that a machine works on.
type Step string

// Sign-in steps.
const (
	StepStart        Step = "start"
	StepFirstFactor  Step = "first_factor"
	StepSecondFactor Step = "second_factor"
)

// Navigation is an internal navigation event that a third-party callback resolves to.
type Navigation string

// Known navigation events.
const (
	NavigationContinue      Navigation = "continue"
	NavigationSignIn        Navigation = "sign-in"
	NavigationSignUp        Navigation = "sign-up"
	NavigationVerification  Navigation = "verification"
	NavigationResetPassword Navigation = "reset-password"
)

func parseNavigation(to string) (Navigation, bool) {
	switch nav := Navigation(to); nav {
	case NavigationContinue, NavigationSignIn, NavigationSignUp, NavigationVerification, NavigationResetPassword:
		return nav, true
	}
	return "", false
}

// Next asks the router to re-evaluate the sign-in attempt and advance.
// If Attempt is nil the router uses the latest attempt of the client session.
type Next struct {
	Attempt    *identity.Attempt
	Navigation Navigation
}

// Prev asks the router to return to the previously active stage.
type Prev struct{}

// Transfer asks the router to continue in the sign-up flow.
type Transfer struct{}

// Loading reports that a machine started or finished a remote operation.
type Loading struct {
	Active   bool
	Step     Step
	Strategy identity.Strategy
}

// Submit submits the form of the current step.
type Submit struct{}

// ChooseStrategy opens the list of alternative strategies.
type ChooseStrategy struct{}

// StrategyUpdate selects a factor from the list of alternative strategies.
type StrategyUpdate struct {
	Factor *identity.Factor
}

// NavigatePrevious closes the list of alternative strategies without changing the factor.
type NavigatePrevious struct{}

// Redirect starts a sign-in via a third-party provider.
type Redirect struct {
	Params identity.RedirectParams
}

// Callback resumes a sign-in after a third-party provider returned control.
type Callback struct{}

// mount is the first message of every machine.
type mount struct{}

func (Next) eventType() string             { return "NEXT" }
func (Prev) eventType() string             { return "PREV" }
func (Transfer) eventType() string         { return "TRANSFER" }
func (Loading) eventType() string          { return "LOADING" }
func (Submit) eventType() string           { return "SUBMIT" }
func (ChooseStrategy) eventType() string   { return "NAVIGATE.CHOOSE_STRATEGY" }
func (StrategyUpdate) eventType() string   { return "STRATEGY.UPDATE" }
func (NavigatePrevious) eventType() string { return "NAVIGATE.PREVIOUS" }
func (Redirect) eventType() string         { return "REDIRECT" }
func (Callback) eventType() string         { return "CALLBACK" }
