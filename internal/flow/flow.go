/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package flow orchestrates a multi-step sign-in against the identity service.
//
// A flow is a set of cooperating machines. The router decides the stage of the sign-in from
// the sign-in attempt and the current URL. For every stage the flow mounts child machines:
// the start machine submits an identifier, the verification machine prepares and attempts
// a first or a second factor, and the third-party machine performs a sign-in via an OAuth or SAML
// provider. Every machine processes its events one at a time in its own goroutine, and machines
// communicate only by sending events to each other.
package flow

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.i-core.ru/signflow/internal/form"
	"gopkg.i-core.ru/signflow/internal/identity"
)

// Client is a client session of the identity service.
type Client interface {
	Current() *identity.Attempt
	Create(ctx context.Context, params identity.CreateParams) (*identity.Attempt, error)
	PrepareFirstFactor(ctx context.Context, params identity.FactorParams) (*identity.Attempt, error)
	AttemptFirstFactor(ctx context.Context, params identity.FactorParams) (*identity.Attempt, error)
	PrepareSecondFactor(ctx context.Context, params identity.FactorParams) (*identity.Attempt, error)
	AttemptSecondFactor(ctx context.Context, params identity.FactorParams) (*identity.Attempt, error)
	AuthenticateWithRedirect(ctx context.Context, params identity.RedirectParams, navigate identity.NavigateFunc) error
	HandleRedirectCallback(ctx context.Context, urls identity.CallbackURLs, navigate identity.NavigateFunc) (*identity.Attempt, error)
	SetActive(ctx context.Context, sessionID string) error
}

// Navigator is a host router.
type Navigator interface {
	Push(to string)
	Replace(to string)
	Pathname() string
	// Match reports whether the current location matches a pattern relative to the flow's base path.
	Match(pattern string) bool
	MatchIndex() bool
}

// Form is a form model that machines read fields from and surface errors to.
type Form interface {
	Fields() form.Fields
	SetError(err error)
}

// Config is a configuration of a flow.
type Config struct {
	BasePath          string
	AfterSignInURL    string
	SignUpURL         string
	AppRoot           string
	SingleSession     bool
	PreferredStrategy identity.Strategy
	ExampleMode       bool
}

// path returns an absolute path of a path relative to the base path.
func (c Config) path(rel string) string {
	base := "/" + strings.Trim(c.BasePath, "/")
	if rel == "" || rel == PathRoot {
		return strings.TrimSuffix(base, "/") + "/"
	}
	return strings.TrimSuffix(base, "/") + rel
}

// Deps is a set of collaborators of a flow.
type Deps struct {
	Client    Client
	Navigator Navigator
	Form      Form
	// ActiveSession is an identifier of a session that the browser already has, if any.
	ActiveSession string
	Log           *zap.SugaredLogger
	Metrics       *Metrics
}

// View is a read model of a flow for rendering.
type View struct {
	RouterSnapshot
	Start        *StartSnapshot
	Verification *VerificationSnapshot
	ThirdParty   *ThirdPartySnapshot
}

// Flow is a mounted sign-in flow.
type Flow struct {
	cnf    Config
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc
	tr     *tracker
	router *Router

	mu           sync.RWMutex
	closed       bool
	start        *StartMachine
	verification *Verification
	thirdParty   *ThirdParty
}

// New mounts a flow. The router evaluates the stage immediately; use Settle to wait for it.
func New(ctx context.Context, cnf Config, deps Deps) *Flow {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(ctx)
	f := &Flow{
		cnf:    cnf,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		tr:     newTracker(),
	}
	f.router = newRouter(ctx, cnf, deps, f.tr)
	f.router.OnTransition(f.remount)
	deps.Metrics.flowMounted()
	f.router.start()
	return f
}

// remount tears down the child machines of the previous stage and mounts children of the new one.
func (f *Flow) remount(_, to RouterState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.stopChildren()

	switch to {
	case StateStart:
		f.start = newStartMachine(f.ctx, f.deps, f.tr, f.router)
		f.start.start()
		f.thirdParty = newThirdParty(f.ctx, f.cnf, f.deps, f.tr, f.router)
		f.thirdParty.start()
	case StateFirstFactor:
		f.verification = newVerification(f.ctx, FirstFactorParams(f.deps.Client, f.cnf), f.deps, f.tr, f.router)
		f.verification.start()
	case StateSecondFactor:
		f.verification = newVerification(f.ctx, SecondFactorParams(f.deps.Client, f.cnf), f.deps, f.tr, f.router)
		f.verification.start()
	case StateCallback:
		f.thirdParty = newThirdParty(f.ctx, f.cnf, f.deps, f.tr, f.router)
		f.thirdParty.start()
		f.thirdParty.Send(Callback{})
	}
}

func (f *Flow) stopChildren() {
	if f.start != nil {
		f.start.act.stop()
		f.start = nil
	}
	if f.verification != nil {
		f.verification.act.stop()
		f.verification = nil
	}
	if f.thirdParty != nil {
		f.thirdParty.act.stop()
		f.thirdParty = nil
	}
}

// Send delivers an event to the mounted machine that accepts it.
// It returns false if no mounted machine accepts the event.
func (f *Flow) Send(ev Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	switch ev.(type) {
	case Next, Prev, Transfer, Loading:
		f.router.Send(ev)
		return true
	case Submit:
		if f.verification != nil {
			f.verification.Send(ev)
			return true
		}
		if f.start != nil {
			f.start.Send(ev)
			return true
		}
	case ChooseStrategy, StrategyUpdate, NavigatePrevious:
		if f.verification != nil {
			f.verification.Send(ev)
			return true
		}
	case Redirect, Callback:
		if f.thirdParty != nil {
			f.thirdParty.Send(ev)
			return true
		}
	}
	f.deps.Log.Debugw("No mounted machine accepts the event", "event", ev.eventType())
	return false
}

// Settle blocks until all machines have processed their events and all operations are finished,
// or the context is done.
func (f *Flow) Settle(ctx context.Context) error {
	return f.tr.wait(ctx)
}

// View returns a read model of the flow.
func (f *Flow) View() View {
	v := View{RouterSnapshot: f.router.Snapshot()}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.start != nil {
		s := f.start.Snapshot()
		v.Start = &s
	}
	if f.verification != nil {
		s := f.verification.Snapshot()
		v.Verification = &s
	}
	if f.thirdParty != nil {
		s := f.thirdParty.Snapshot()
		v.ThirdParty = &s
	}
	return v
}

// Close unmounts the flow. Queued events are dropped and results of running operations are ignored.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.stopChildren()
	f.router.act.stop()
	f.cancel()
	f.deps.Metrics.flowClosed()
}
