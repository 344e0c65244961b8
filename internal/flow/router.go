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
	"gopkg.i-core.ru/signflow/internal/identity"
)

// RouterState is a stage of the sign-in flow.
type RouterState int

// Router states.
const (
	StateInit RouterState = iota
	StateStart
	StateFirstFactor
	StateSecondFactor
	StateCallback
	StateError
)

var routerStateNames = [...]string{"Init", "Start", "FirstFactor", "SecondFactor", "Callback", "Error"}

func (s RouterState) String() string {
	if int(s) < len(routerStateNames) {
		return routerStateNames[s]
	}
	return "Unknown"
}

// Paths of the flow's stages relative to the base path.
const (
	PathRoot     = "/"
	PathContinue = "/continue"
	PathCallback = "/sso-callback"
)

func stagePath(s RouterState) string {
	switch s {
	case StateStart:
		return PathRoot
	case StateFirstFactor, StateSecondFactor:
		return PathContinue
	case StateCallback:
		return PathCallback
	}
	return ""
}

func isStage(s RouterState) bool {
	return stagePath(s) != ""
}

// RouterContext is the router's data.
type RouterContext struct {
	Attempt *identity.Attempt
	Err     error
	Loading Loading
	// History is the stage that was active before the current one.
	History    RouterState
	Finalizing bool
	Finalized  bool
}

// RouterSnapshot is a copy of the router's state for readers in other goroutines.
type RouterSnapshot struct {
	State RouterState
	RouterContext
}

// Router is the top-level machine of the flow. It decides the stage from the sign-in attempt
// and the current URL, keeps the URL in sync with the stage, and finalizes the session.
type Router struct {
	act           *actor
	cnf           Config
	client        Client
	nav           Navigator
	activeSession string

	mu    sync.RWMutex
	state RouterState
	rc    RouterContext

	hooks []func(from, to RouterState)
}

func newRouter(ctx context.Context, cnf Config, deps Deps, tr *tracker) *Router {
	return &Router{
		act:           newActor(ctx, "router", tr, deps.Log, deps.Metrics),
		cnf:           cnf,
		client:        deps.Client,
		nav:           deps.Navigator,
		activeSession: deps.ActiveSession,
		rc:            RouterContext{History: StateStart},
	}
}

// OnTransition registers a hook that is called by the router's goroutine after the stage changes.
// Hooks must be registered before the router is started.
func (r *Router) OnTransition(hook func(from, to RouterState)) {
	r.hooks = append(r.hooks, hook)
}

func (r *Router) start() {
	r.act.send(mount{})
	go r.act.run(r.handle)
}

// Send delivers an event to the router.
func (r *Router) Send(ev Event) {
	r.act.send(ev)
}

// Snapshot returns a copy of the router's state.
func (r *Router) Snapshot() RouterSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RouterSnapshot{State: r.state, RouterContext: r.rc}
}

func (r *Router) handle(msg interface{}) {
	switch m := msg.(type) {
	case mount:
		r.init()
	case Next:
		r.next(m)
	case Prev:
		r.prev()
	case Transfer:
		r.transfer()
	case Loading:
		r.update(func(c *RouterContext) { c.Loading = m })
	case leave:
		r.nav.Push(m.to)
	case taskDone:
		r.finalized(m)
	default:
		r.act.log.Debugw("Ignore an unexpected message", "state", r.state, "message", msg)
	}
}

func (r *Router) init() {
	a := r.client.Current()
	r.update(func(c *RouterContext) { c.Attempt = a })

	switch {
	case r.activeSession != "" && r.cnf.SingleSession:
		r.update(func(c *RouterContext) { c.Err = ErrAlreadySignedIn })
		r.nav.Replace(r.cnf.AppRoot)
		r.transition(StateError)
	case a == nil || a.Status == identity.StatusNeedsIdentifier || r.nav.MatchIndex():
		r.nav.Replace(r.cnf.path(PathRoot))
		r.transition(StateStart)
	case a.Status == identity.StatusNeedsFirstFactor && r.nav.Match(PathContinue):
		r.transition(StateFirstFactor)
	case a.Status == identity.StatusNeedsSecondFactor && r.nav.Match(PathContinue):
		r.transition(StateSecondFactor)
	case r.nav.Match(PathCallback):
		r.transition(StateCallback)
	default:
		r.act.log.Warnw("Unknown sign-in state", "status", a.Status, "path", r.nav.Pathname())
		r.update(func(c *RouterContext) { c.Err = ErrUnknownState })
		r.nav.Replace(r.cnf.path(PathRoot))
		r.transition(StateStart)
	}
}

func (r *Router) next(ev Next) {
	a := ev.Attempt
	if a == nil {
		a = r.client.Current()
	}
	r.update(func(c *RouterContext) { c.Attempt = a })

	if r.rc.Finalizing || r.rc.Finalized {
		r.act.log.Debugw("Ignore NEXT while the session is finalized", "state", r.state)
		return
	}
	switch r.state {
	case StateInit:
		return
	case StateError:
		r.update(func(c *RouterContext) { c.Err = nil })
		r.goTo(StateStart)
		return
	}

	switch {
	case a != nil && a.Status == identity.StatusComplete && a.CreatedSessionID != "":
		r.finalize(a.CreatedSessionID)
	case a != nil && a.Status == identity.StatusNeedsFirstFactor:
		r.goTo(StateFirstFactor)
	case a != nil && a.Status == identity.StatusNeedsSecondFactor:
		r.goTo(StateSecondFactor)
	case r.state == StateSecondFactor:
		r.act.log.Warnw("Unknown error after the second factor", "status", statusOf(a))
		r.goTo(StateStart)
	case r.state == StateCallback && ev.Navigation == NavigationSignUp:
		r.transfer()
	case r.state == StateCallback:
		r.act.log.Infow("Unexpected outcome of a third-party sign-in", "status", statusOf(a), "navigation", ev.Navigation)
		r.goTo(StateStart)
	case r.state == StateStart && a != nil && a.FirstFactorVerification.Transferable():
		r.transfer()
	}
}

func (r *Router) prev() {
	if r.state == StateInit || r.rc.Finalizing || r.rc.Finalized {
		return
	}
	r.update(func(c *RouterContext) { c.Err = nil })
	r.goTo(r.rc.History)
}

func (r *Router) transfer() {
	if r.state != StateCallback && r.state != StateStart {
		r.act.log.Debugw("Ignore TRANSFER", "state", r.state)
		return
	}
	if r.cnf.SignUpURL == "" {
		r.act.log.Warnw("Cannot transfer to the sign-up, its URL is not configured")
		return
	}
	r.nav.Push(r.cnf.SignUpURL)
}

func (r *Router) finalize(sessionID string) {
	r.update(func(c *RouterContext) { c.Finalizing = true })
	r.act.launch(func(ctx context.Context) (interface{}, error) {
		return sessionID, r.client.SetActive(ctx, sessionID)
	})
}

func (r *Router) finalized(td taskDone) {
	r.update(func(c *RouterContext) { c.Finalizing = false })
	if td.err != nil {
		r.act.log.Infow("Failed to set the active session", zap.Error(td.err))
		r.update(func(c *RouterContext) { c.Err = td.err })
		r.transition(StateError)
		return
	}
	r.nav.Push(r.cnf.AfterSignInURL)
	r.update(func(c *RouterContext) { c.Finalized = true })
	r.act.metrics.signedIn()
	r.act.log.Infow("Signed in", "sessionID", td.value)
}

// goTo navigates to the stage's path unless the browser is already there, and enters the stage.
func (r *Router) goTo(to RouterState) {
	if p := r.cnf.path(stagePath(to)); r.nav.Pathname() != p {
		r.nav.Push(p)
	}
	r.transition(to)
}

func (r *Router) transition(to RouterState) {
	from := r.state
	if from == to {
		return
	}
	r.act.renew()
	r.mu.Lock()
	r.state = to
	if isStage(from) {
		r.rc.History = from
	}
	// Children of the previous stage are torn down, so their operations are over.
	r.rc.Loading = Loading{}
	r.mu.Unlock()

	r.act.log.Debugw("Transition", "from", from, "to", to)
	r.act.metrics.transition(r.act.name, from, to)
	for _, hook := range r.hooks {
		hook(from, to)
	}
}

// update changes the router's data. It is called only by the router's goroutine.
func (r *Router) update(fn func(c *RouterContext)) {
	r.mu.Lock()
	fn(&r.rc)
	r.mu.Unlock()
}

func statusOf(a *identity.Attempt) identity.Status {
	if a == nil {
		return ""
	}
	return a.Status
}
