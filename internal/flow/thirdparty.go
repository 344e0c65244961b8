/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.i-core.ru/signflow/internal/identity"
)

// ThirdPartyState is a state of the third-party machine.
type ThirdPartyState int

// Third-party machine states.
const (
	ThirdPartyIdle ThirdPartyState = iota
	ThirdPartyRedirecting
	ThirdPartyHandlingCallback
)

var thirdPartyStateNames = [...]string{"Idle", "Redirecting", "HandlingCallback"}

func (s ThirdPartyState) String() string {
	if int(s) < len(thirdPartyStateNames) {
		return thirdPartyStateNames[s]
	}
	return "Unknown"
}

// callbackURLs maps outcomes of a third-party sign-in to navigation events.
var callbackURLs = identity.CallbackURLs{
	SignIn:        string(NavigationSignIn),
	SignUp:        string(NavigationSignUp),
	FirstFactor:   string(NavigationContinue),
	SecondFactor:  string(NavigationContinue),
	ResetPassword: string(NavigationResetPassword),
	Verification:  string(NavigationVerification),
	Complete:      string(NavigationContinue),
}

// leave asks the router to navigate out of the application, for example, to an OAuth provider.
type leave struct {
	to string
}

func (leave) eventType() string { return "NAVIGATE.EXTERNAL" }

type callbackResult struct {
	attempt    *identity.Attempt
	navigation Navigation
}

// ThirdPartySnapshot is a copy of the third-party machine's state.
type ThirdPartySnapshot struct {
	State    ThirdPartyState
	Strategy identity.Strategy
}

// ThirdParty performs a sign-in via an OAuth or SAML provider: it redirects a user to the provider
// and later resolves the provider's callback.
type ThirdParty struct {
	act    *actor
	cnf    Config
	parent parent
	form   Form
	client Client

	mu       sync.RWMutex
	state    ThirdPartyState
	strategy identity.Strategy
}

func newThirdParty(ctx context.Context, cnf Config, deps Deps, tr *tracker, p parent) *ThirdParty {
	return &ThirdParty{
		act:    newActor(ctx, "thirdparty", tr, deps.Log, deps.Metrics),
		cnf:    cnf,
		parent: p,
		form:   deps.Form,
		client: deps.Client,
	}
}

func (m *ThirdParty) start() {
	go m.act.run(m.handle)
}

// Send delivers an event to the machine.
func (m *ThirdParty) Send(ev Event) {
	m.act.send(ev)
}

// Snapshot returns a copy of the machine's state.
func (m *ThirdParty) Snapshot() ThirdPartySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ThirdPartySnapshot{State: m.state, Strategy: m.strategy}
}

func (m *ThirdParty) handle(msg interface{}) {
	switch msg := msg.(type) {
	case Redirect:
		if m.state != ThirdPartyIdle {
			m.act.log.Debugw("Ignore REDIRECT", "state", m.state)
			return
		}
		if m.cnf.ExampleMode {
			m.act.log.Debugw("Ignore REDIRECT in the example mode", "strategy", msg.Params.Strategy)
			return
		}
		m.redirect(msg.Params)
	case Callback:
		if m.state != ThirdPartyIdle {
			m.act.log.Debugw("Ignore CALLBACK", "state", m.state)
			return
		}
		m.callback()
	case taskDone:
		m.finished(msg)
	default:
		m.act.log.Debugw("Ignore an unexpected message", "state", m.state, "message", msg)
	}
}

func (m *ThirdParty) redirect(params identity.RedirectParams) {
	m.mu.Lock()
	m.strategy = params.Strategy
	m.mu.Unlock()
	m.transition(ThirdPartyRedirecting)
	m.parent.Send(Loading{Active: true, Step: StepStart, Strategy: params.Strategy})

	if params.RedirectURL == "" {
		params.RedirectURL = m.cnf.path(PathCallback)
	}
	if params.RedirectURLComplete == "" {
		params.RedirectURLComplete = m.cnf.AfterSignInURL
	}
	params.LegalAccepted = m.form.Fields()[FieldLegalAccepted].Checked

	m.act.launch(func(ctx context.Context) (interface{}, error) {
		var to string
		err := m.client.AuthenticateWithRedirect(ctx, params, func(u string) error {
			to = u
			return nil
		})
		return to, err
	})
}

func (m *ThirdParty) callback() {
	m.transition(ThirdPartyHandlingCallback)
	m.act.launch(func(ctx context.Context) (interface{}, error) {
		var res callbackResult
		a, err := m.client.HandleRedirectCallback(ctx, callbackURLs, func(to string) error {
			nav, ok := parseNavigation(to)
			if !ok {
				return errors.Wrapf(ErrUnknownNavigation, "failed to resolve %q", to)
			}
			res.navigation = nav
			return nil
		})
		res.attempt = a
		return res, err
	})
}

func (m *ThirdParty) finished(td taskDone) {
	switch m.state {
	case ThirdPartyRedirecting:
		if td.err != nil {
			m.act.log.Infow("Failed to redirect to a third-party provider", "strategy", m.strategy, zap.Error(td.err))
			m.form.SetError(td.err)
			m.transition(ThirdPartyIdle)
			return
		}
		// The browser leaves the application; the machine stays in Redirecting.
		m.parent.Send(leave{to: td.value.(string)})
	case ThirdPartyHandlingCallback:
		if td.err != nil {
			m.act.log.Infow("Failed to handle a third-party callback", zap.Error(td.err))
			m.form.SetError(td.err)
			m.transition(ThirdPartyIdle)
			return
		}
		res := td.value.(callbackResult)
		m.parent.Send(Next{Attempt: res.attempt, Navigation: res.navigation})
		m.transition(ThirdPartyIdle)
	}
}

func (m *ThirdParty) transition(to ThirdPartyState) {
	from := m.state
	if from == ThirdPartyRedirecting {
		m.parent.Send(Loading{Step: StepStart})
		m.mu.Lock()
		m.strategy = ""
		m.mu.Unlock()
	}
	m.act.renew()
	m.mu.Lock()
	m.state = to
	m.mu.Unlock()
	m.act.log.Debugw("Transition", "from", from, "to", to)
	m.act.metrics.transition(m.act.name, from, to)
}
