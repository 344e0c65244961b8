/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"gopkg.i-core.ru/signflow/internal/form"
	"gopkg.i-core.ru/signflow/internal/identity"
)

// VerificationState is a state of the verification machine.
type VerificationState int

// Verification machine states.
const (
	VerificationPreparing VerificationState = iota
	VerificationPending
	VerificationChooseStrategy
	VerificationAttempting
	VerificationDone
)

var verificationStateNames = [...]string{"Preparing", "Pending", "ChooseStrategy", "Attempting", "Done"}

func (s VerificationState) String() string {
	if int(s) < len(verificationStateNames) {
		return verificationStateNames[s]
	}
	return "Unknown"
}

// VerificationParams binds the verification machine to one step of the sign-in.
type VerificationParams struct {
	Step Step
	// Prepare prepares a factor. It returns a nil attempt if the factor needs no preparing.
	Prepare func(ctx context.Context, f *identity.Factor) (*identity.Attempt, error)
	// Attempt verifies a factor with values of the form fields.
	Attempt func(ctx context.Context, f *identity.Factor, fields form.Fields) (*identity.Attempt, error)
	// DetermineStartingFactor selects a factor when the machine is mounted.
	DetermineStartingFactor func(a *identity.Attempt) *identity.Factor
	// Factors returns factors the user can choose from.
	Factors func(a *identity.Attempt) []identity.Factor
	// Needed reports whether the attempt still needs the step.
	Needed func(a *identity.Attempt) bool
}

// FirstFactorParams returns parameters of the first factor verification.
func FirstFactorParams(client Client, cnf Config) VerificationParams {
	return VerificationParams{
		Step: StepFirstFactor,
		Prepare: func(ctx context.Context, f *identity.Factor) (*identity.Attempt, error) {
			params, ok := prepareParams(f, cnf.path(PathContinue))
			if !ok {
				return nil, nil
			}
			return client.PrepareFirstFactor(ctx, params)
		},
		Attempt: func(ctx context.Context, f *identity.Factor, fields form.Fields) (*identity.Attempt, error) {
			params, err := firstFactorAttemptParams(f, fields)
			if err != nil {
				return nil, err
			}
			return client.AttemptFirstFactor(ctx, params)
		},
		DetermineStartingFactor: func(a *identity.Attempt) *identity.Factor {
			return firstFactorStart(a, cnf.PreferredStrategy)
		},
		Factors: func(a *identity.Attempt) []identity.Factor {
			if a == nil {
				return nil
			}
			return a.SupportedFirstFactors
		},
		Needed: func(a *identity.Attempt) bool {
			return a != nil && a.Status == identity.StatusNeedsFirstFactor
		},
	}
}

// SecondFactorParams returns parameters of the second factor verification.
func SecondFactorParams(client Client, cnf Config) VerificationParams {
	return VerificationParams{
		Step: StepSecondFactor,
		Prepare: func(ctx context.Context, f *identity.Factor) (*identity.Attempt, error) {
			params, ok := prepareParams(f, cnf.path(PathContinue))
			if !ok {
				return nil, nil
			}
			return client.PrepareSecondFactor(ctx, params)
		},
		Attempt: func(ctx context.Context, f *identity.Factor, fields form.Fields) (*identity.Attempt, error) {
			params, err := secondFactorAttemptParams(f, fields)
			if err != nil {
				return nil, err
			}
			return client.AttemptSecondFactor(ctx, params)
		},
		DetermineStartingFactor: func(a *identity.Attempt) *identity.Factor {
			return secondFactorStart(a, cnf.PreferredStrategy)
		},
		Factors: func(a *identity.Attempt) []identity.Factor {
			if a == nil {
				return nil
			}
			return a.SupportedSecondFactors
		},
		Needed: func(a *identity.Attempt) bool {
			return a != nil && a.Status == identity.StatusNeedsSecondFactor
		},
	}
}

// VerificationSnapshot is a copy of the verification machine's state.
type VerificationSnapshot struct {
	Step    Step
	State   VerificationState
	Factor  *identity.Factor
	Factors []identity.Factor
}

// Verification prepares a factor and then attempts it.
type Verification struct {
	act    *actor
	params VerificationParams
	parent parent
	form   Form

	mu      sync.RWMutex
	state   VerificationState
	factor  *identity.Factor
	factors []identity.Factor
}

func newVerification(ctx context.Context, params VerificationParams, deps Deps, tr *tracker, p parent) *Verification {
	return &Verification{
		act:    newActor(ctx, "verification", tr, deps.Log.With("step", params.Step), deps.Metrics),
		params: params,
		parent: p,
		form:   deps.Form,
	}
}

func (v *Verification) start() {
	v.act.send(mount{})
	go v.act.run(v.handle)
}

// Send delivers an event to the machine.
func (v *Verification) Send(ev Event) {
	v.act.send(ev)
}

// Snapshot returns a copy of the machine's state.
func (v *Verification) Snapshot() VerificationSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return VerificationSnapshot{
		Step:    v.params.Step,
		State:   v.state,
		Factor:  v.factor,
		Factors: v.factors,
	}
}

func (v *Verification) handle(msg interface{}) {
	switch msg := msg.(type) {
	case mount:
		a := v.parent.Snapshot().Attempt
		v.mu.Lock()
		v.factor = v.params.DetermineStartingFactor(a)
		if v.params.Factors != nil {
			v.factors = v.params.Factors(a)
		}
		v.mu.Unlock()
		v.enter(VerificationPreparing)
	case Submit:
		if v.state == VerificationPending || v.state == VerificationAttempting {
			v.enter(VerificationAttempting)
			return
		}
		v.ignore(msg)
	case ChooseStrategy:
		if v.state == VerificationPending {
			v.enter(VerificationChooseStrategy)
			return
		}
		v.ignore(msg)
	case StrategyUpdate:
		if v.state == VerificationChooseStrategy {
			v.mu.Lock()
			v.factor = msg.Factor
			v.mu.Unlock()
			v.enter(VerificationPreparing)
			return
		}
		v.ignore(msg)
	case NavigatePrevious:
		if v.state == VerificationChooseStrategy {
			v.enter(VerificationPending)
			return
		}
		v.ignore(msg)
	case taskDone:
		v.finished(msg)
	default:
		v.ignore(msg)
	}
}

func (v *Verification) finished(td taskDone) {
	switch v.state {
	case VerificationPreparing:
		if td.err != nil {
			v.act.log.Infow("Failed to prepare a factor", "strategy", v.strategy(), zap.Error(td.err))
			v.form.SetError(td.err)
		}
		v.enter(VerificationPending)
	case VerificationAttempting:
		if td.err != nil {
			v.act.log.Infow("Failed to attempt a factor", "strategy", v.strategy(), zap.Error(td.err))
			v.form.SetError(td.err)
			v.enter(VerificationPending)
			return
		}
		a := td.value.(*identity.Attempt)
		v.parent.Send(Next{Attempt: a})
		if v.params.Needed(a) {
			v.enter(VerificationPending)
			return
		}
		v.enter(VerificationDone)
	}
}

// enter leaves the current state and enters a state. Entering the current state again restarts it.
func (v *Verification) enter(to VerificationState) {
	from := v.state
	if from == VerificationAttempting {
		v.parent.Send(Loading{Step: v.params.Step})
	}
	v.act.renew()
	v.mu.Lock()
	v.state = to
	f := v.factor
	v.mu.Unlock()
	v.act.log.Debugw("Transition", "from", from, "to", to)
	v.act.metrics.transition(v.act.name, from, to)

	switch to {
	case VerificationPreparing:
		v.act.launch(func(ctx context.Context) (interface{}, error) {
			return v.params.Prepare(ctx, f)
		})
	case VerificationAttempting:
		v.parent.Send(Loading{Active: true, Step: v.params.Step, Strategy: v.strategy()})
		fields := v.form.Fields()
		v.act.launch(func(ctx context.Context) (interface{}, error) {
			return v.params.Attempt(ctx, f, fields)
		})
	}
}

func (v *Verification) strategy() identity.Strategy {
	if v.factor == nil {
		return ""
	}
	return v.factor.Strategy
}

func (v *Verification) ignore(msg interface{}) {
	v.act.log.Debugw("Ignore an unexpected message", "state", v.state, "message", msg)
}
