/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gopkg.i-core.ru/signflow/internal/identity"
)

func otpAttempt() *identity.Attempt {
	return &identity.Attempt{
		ID:         "sia_1",
		Status:     identity.StatusNeedsFirstFactor,
		Identifier: "+15550100",
		SupportedFirstFactors: []identity.Factor{
			{Strategy: identity.StrategyEmailCode, SafeIdentifier: "j***@example.org", EmailAddressID: "idn_email"},
			{Strategy: identity.StrategyPhoneCode, SafeIdentifier: "+15550100", PhoneNumberID: "idn_phone"},
			{Strategy: identity.StrategyPassword},
		},
	}
}

func TestPrepareErrorIsForwarded(t *testing.T) {
	errPrepare := errors.New("too many codes sent")
	cli := &testClient{
		current: otpAttempt(),
		prepareFirstFunc: func(identity.FactorParams) (*identity.Attempt, error) {
			return nil, errPrepare
		},
	}
	cnf := testConfig
	cnf.PreferredStrategy = ""
	env := mountFlow(t, cnf, cli, "/sign-in/continue")

	errs := env.form.errors()
	require.Len(t, errs, 1)
	require.Equal(t, errPrepare, errors.Cause(errs[0]))
	v := env.flow.View()
	require.Equal(t, VerificationPending, v.Verification.State)
	require.Equal(t, StateFirstFactor, v.State)
}

func TestStrategySelection(t *testing.T) {
	var (
		mu       sync.Mutex
		prepared []identity.FactorParams
	)
	cli := &testClient{
		current: otpAttempt(),
		prepareFirstFunc: func(p identity.FactorParams) (*identity.Attempt, error) {
			mu.Lock()
			prepared = append(prepared, p)
			mu.Unlock()
			return otpAttempt(), nil
		},
	}
	cnf := testConfig
	cnf.PreferredStrategy = ""
	env := mountFlow(t, cnf, cli, "/sign-in/continue")

	v := env.flow.View().Verification
	require.Equal(t, identity.StrategyPhoneCode, v.Factor.Strategy, "the factor of the identifier must be preferred")
	require.Len(t, v.Factors, 3)

	env.send(t, ChooseStrategy{})
	require.Equal(t, VerificationChooseStrategy, env.flow.View().Verification.State)

	email := otpAttempt().SupportedFirstFactors[0]
	env.send(t, StrategyUpdate{Factor: &email})

	v = env.flow.View().Verification
	require.Equal(t, VerificationPending, v.State)
	require.Equal(t, &email, v.Factor)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []identity.FactorParams{
		{Strategy: identity.StrategyPhoneCode, PhoneNumberID: "idn_phone"},
		{Strategy: identity.StrategyEmailCode, EmailAddressID: "idn_email"},
	}, prepared)
}

func TestNavigatePreviousKeepsFactor(t *testing.T) {
	cli := &testClient{current: otpAttempt()}
	cnf := testConfig
	cnf.PreferredStrategy = ""
	env := mountFlow(t, cnf, cli, "/sign-in/continue")

	env.send(t, ChooseStrategy{})
	env.send(t, NavigatePrevious{})

	v := env.flow.View().Verification
	require.Equal(t, VerificationPending, v.State)
	require.Equal(t, identity.StrategyPhoneCode, v.Factor.Strategy)
	require.Equal(t, 1, cli.called("prepareFirst"))
}

func TestOnlyLatestAttemptIsHonored(t *testing.T) {
	var (
		release = make(chan struct{})
		mu      sync.Mutex
		n       int
	)
	cli := &testClient{
		current: passwordAttempt(identity.StatusNeedsFirstFactor, ""),
		attemptFirstFunc: func(identity.FactorParams) (*identity.Attempt, error) {
			mu.Lock()
			n++
			call := n
			mu.Unlock()
			if call == 1 {
				<-release
				return passwordAttempt(identity.StatusComplete, "sess_1"), nil
			}
			return nil, errors.New("wrong password")
		},
	}
	env := mountFlow(t, testConfig, cli, "/sign-in/continue")
	env.form.set(FieldPassword, "secret")

	require.True(t, env.flow.Send(Submit{}))
	require.Eventually(t, func() bool { return cli.called("attemptFirst") == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, env.flow.Send(Submit{}))
	require.Eventually(t, func() bool { return len(env.form.errors()) == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	env.settle(t)

	require.Equal(t, 2, cli.called("attemptFirst"))
	require.Zero(t, cli.called("setActive:sess_1"), "a stale attempt result was honored")
	require.Len(t, env.form.errors(), 1)
	v := env.flow.View()
	require.Equal(t, StateFirstFactor, v.State)
	require.Equal(t, VerificationPending, v.Verification.State)
	require.False(t, v.Loading.Active)
	require.Equal(t, 1, env.stale("verification"))
}

func TestAttemptWithMissingField(t *testing.T) {
	cli := &testClient{current: passwordAttempt(identity.StatusNeedsFirstFactor, "")}
	env := mountFlow(t, testConfig, cli, "/sign-in/continue")

	env.send(t, Submit{})

	errs := env.form.errors()
	require.Len(t, errs, 1)
	require.Equal(t, &MissingFieldError{Name: FieldPassword}, errs[0])
	require.Zero(t, cli.called("attemptFirst"))
	require.Equal(t, VerificationPending, env.flow.View().Verification.State)
}

func TestAttemptWithUnsupportedStrategy(t *testing.T) {
	cli := &testClient{current: otpAttempt()}
	cnf := testConfig
	cnf.PreferredStrategy = ""
	env := mountFlow(t, cnf, cli, "/sign-in/continue")

	link := identity.Factor{Strategy: identity.StrategyEmailLink, EmailAddressID: "idn_email"}
	env.send(t, ChooseStrategy{})
	env.send(t, StrategyUpdate{Factor: &link})
	env.send(t, Submit{})

	errs := env.form.errors()
	require.Len(t, errs, 1)
	var invalid *InvalidStrategyError
	require.ErrorAs(t, errs[0], &invalid)
	require.Equal(t, identity.StrategyEmailLink, invalid.Strategy)
	require.Equal(t, VerificationPending, env.flow.View().Verification.State)
}
