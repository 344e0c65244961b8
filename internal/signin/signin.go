/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package signin serves the sign-in flow to browsers.
//
// Every browser gets a session with its own client session of the identity service, form model,
// navigation history and sign-in flow. A request is translated into an event of the flow.
// When the flow settles, the handler either redirects the browser to the location
// the flow navigated to, or renders a page of the current stage.
package signin

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/justinas/nosurf"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.i-core.ru/signflow/internal/flow"
	"gopkg.i-core.ru/signflow/internal/form"
	"gopkg.i-core.ru/signflow/internal/identity"
	"gopkg.i-core.ru/signflow/internal/logger"
	"gopkg.i-core.ru/signflow/internal/navigation"
	"gopkg.i-core.ru/signflow/internal/server"
)

const cookieName = "signflow_session"

// Form actions.
const (
	actionSubmit         = "submit"
	actionChooseStrategy = "choose-strategy"
	actionStrategy       = "strategy"
	actionBack           = "back"
	actionRedirect       = "redirect"
	actionPrev           = "prev"
	actionRetry          = "retry"
)

var errUnknownAction = errors.New("unknown action")

// Config is a configuration of the sign-in flow.
type Config struct {
	BasePath          string        `envconfig:"base_path" default:"/sign-in" desc:"a base path of the sign-in flow"`
	AfterSignInURL    string        `envconfig:"after_sign_in_url" default:"/" desc:"a URL to navigate to after a successful sign-in"`
	SignUpURL         string        `envconfig:"sign_up_url" default:"/sign-up" desc:"a URL of the sign-up flow"`
	AppRoot           string        `envconfig:"app_root" default:"/" desc:"a root URL of the application"`
	SingleSession     bool          `envconfig:"single_session" default:"true" desc:"forbid a signed-in browser to sign in again"`
	PreferredStrategy string        `envconfig:"preferred_strategy" default:"password" desc:"a first factor strategy that is used when the sign-in supports it"`
	OAuthStrategies   []string      `envconfig:"oauth_strategies" desc:"a list of enabled third-party strategies, e.g. oauth_google,saml"`
	ExampleMode       bool          `envconfig:"example_mode" default:"false" desc:"render the flow without redirects to third-party providers"`
	SessionTTL        time.Duration `envconfig:"session_ttl" default:"24h" desc:"a time to remember that a browser is signed in"`
	CacheSize         int           `envconfig:"cache_size" default:"512" desc:"a size of the signed-in browsers' cache in KiB"`
	SettleTimeout     time.Duration `envconfig:"settle_timeout" default:"15s" desc:"a time to wait for the flow to handle a request"`
	IdleTimeout       time.Duration `envconfig:"idle_timeout" default:"30m" desc:"a time after that an idle browser session is released"`
	SubmitRate        float64       `envconfig:"submit_rate" default:"1" desc:"a number of form actions per second that a browser may send"`
	SubmitBurst       int           `envconfig:"submit_burst" default:"5" desc:"a number of form actions that a browser may send at once"`
}

func (c Config) flowConfig() flow.Config {
	return flow.Config{
		BasePath:          c.BasePath,
		AfterSignInURL:    c.AfterSignInURL,
		SignUpURL:         c.SignUpURL,
		AppRoot:           c.AppRoot,
		SingleSession:     c.SingleSession,
		PreferredStrategy: identity.Strategy(c.PreferredStrategy),
		ExampleMode:       c.ExampleMode,
	}
}

// TemplateRenderer renders a template with data and writes it to a http.ResponseWriter.
type TemplateRenderer interface {
	RenderTemplate(w http.ResponseWriter, r *http.Request, name string, data interface{}) error
}

// ClientFactory creates a client session of the identity service for a new browser session.
type ClientFactory func() flow.Client

// Handler provides HTTP handlers of the sign-in flow.
type Handler struct {
	Config
	newClient ClientFactory
	tr        TemplateRenderer
	metrics   *flow.Metrics
	log       *zap.SugaredLogger
	sessions  *registry
	active    *activeSessions
}

// NewHandler creates a new Handler. Metrics may be nil.
func NewHandler(cnf Config, newClient ClientFactory, tr TemplateRenderer, metrics *flow.Metrics, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		Config:    cnf,
		newClient: newClient,
		tr:        tr,
		metrics:   metrics,
		log:       log,
		sessions:  newRegistry(cnf.IdleTimeout),
		active:    newActiveSessions(cnf.CacheSize, cnf.SessionTTL),
	}
}

// AddRoutes registers all required routes for the package signin.
func (h *Handler) AddRoutes(apply func(m, p string, h http.Handler, mws ...func(http.Handler) http.Handler)) {
	apply(http.MethodGet, "/*path", h.newPageHandler())
	apply(http.MethodPost, "/*path", h.newActionHandler())
}

func (h *Handler) newPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context()).With("stage", server.PathParam(r.Context(), "path"))
		s, err := h.session(w, r)
		if err != nil {
			log.Infow("Failed to start a browser session", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		h.mount(s, r)
		h.settle(r, s)
		if s.flow == nil || moved(s.nav, r) {
			http.Redirect(w, r, s.nav.Location(), http.StatusSeeOther)
			return
		}
		h.render(w, r, s)
	}
}

func (h *Handler) newActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context()).With("stage", server.PathParam(r.Context(), "path"))
		if err := r.ParseForm(); err != nil {
			log.Debugw("Failed to parse a sign-in form", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		s, err := h.session(w, r)
		if err != nil {
			log.Infow("Failed to start a browser session", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.limiter.Allow() {
			log.Debugw("Too many sign-in actions", "session", s.id)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		h.mount(s, r)
		h.settle(r, s)
		if s.flow == nil {
			http.Redirect(w, r, s.nav.Location(), http.StatusSeeOther)
			return
		}

		action := r.PostForm.Get("action")
		ev, err := h.event(action, r.PostForm, s.flow.View())
		if err != nil {
			log.Debugw("Invalid sign-in action", "action", action, zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		s.form.Update(form.FromValues(fieldValues(r.PostForm)))
		if !s.flow.Send(ev) {
			log.Debugw("The sign-in action is not accepted at the current stage", "action", action)
		}
		h.settle(r, s)
		s.form.ClearSecrets(flow.FieldPassword, flow.FieldCode, flow.FieldSignature)

		http.Redirect(w, r, s.nav.Location(), http.StatusSeeOther)
	}
}

// session returns the browser session of the request and starts a new one if there is none.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session, error) {
	var id string
	if c, err := r.Cookie(cookieName); err == nil {
		if s, ok := h.sessions.get(c.Value); ok {
			return s, nil
		}
		// Keep the identifier of a released session, so the browser stays signed in.
		if u, err := uuid.FromString(c.Value); err == nil {
			id = u.String()
		}
	}
	if id == "" {
		u, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate a session ID")
		}
		id = u.String()
	}

	s := &session{
		id:      id,
		client:  h.newClient(),
		form:    form.New(),
		limiter: rate.NewLimiter(rate.Limit(h.SubmitRate), h.SubmitBurst),
	}
	h.sessions.add(s)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	logger.FromContext(r.Context()).Debugw("A browser session is started", "session", id)
	return s, nil
}

// mount mounts a new flow when the browser came to a location that the flow did not navigate to.
func (h *Handler) mount(s *session, r *http.Request) {
	if s.flow != nil && !moved(s.nav, r) {
		return
	}
	s.closeFlow()
	if s.nav == nil {
		s.nav = navigation.New(h.BasePath, r.URL.RequestURI())
	} else {
		s.nav.Reset(r.URL.RequestURI())
	}
	s.form.Update(nil)
	s.flow = flow.New(context.Background(), h.flowConfig(), flow.Deps{
		Client:        s.client,
		Navigator:     s.nav,
		Form:          s.form,
		ActiveSession: h.active.get(s.id),
		Log:           h.log.With("session", s.id),
		Metrics:       h.metrics,
	})
}

// settle waits for the flow and releases it when the browser has signed in.
func (h *Handler) settle(r *http.Request, s *session) {
	if s.flow == nil {
		return
	}
	log := logger.FromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.SettleTimeout)
	defer cancel()
	if err := s.flow.Settle(ctx); err != nil {
		log.Infow("Failed to wait for the sign-in flow", zap.Error(err))
	}

	v := s.flow.View()
	if !v.Finalized {
		return
	}
	sessionID := createdSessionID(v.Attempt, s.client)
	if err := h.active.set(s.id, sessionID); err != nil {
		log.Infow("Failed to remember a signed-in browser", zap.Error(err))
	}
	log.Infow("A browser is signed in", "session", s.id, "sessionID", sessionID)
	s.closeFlow()
}

func (h *Handler) event(action string, vals url.Values, v flow.View) (flow.Event, error) {
	switch action {
	case actionSubmit:
		return flow.Submit{}, nil
	case actionChooseStrategy:
		return flow.ChooseStrategy{}, nil
	case actionBack:
		return flow.NavigatePrevious{}, nil
	case actionPrev:
		return flow.Prev{}, nil
	case actionStrategy:
		if v.Verification == nil {
			return nil, errors.New("no factors to choose from")
		}
		i, err := strconv.Atoi(vals.Get("factor"))
		if err != nil || i < 0 || i >= len(v.Verification.Factors) {
			return nil, errors.Errorf("invalid factor %q", vals.Get("factor"))
		}
		f := v.Verification.Factors[i]
		return flow.StrategyUpdate{Factor: &f}, nil
	case actionRedirect:
		strategy := vals.Get("strategy")
		if !h.enabled(strategy) {
			return nil, errors.Errorf("strategy %q is not enabled", strategy)
		}
		return flow.Redirect{Params: identity.RedirectParams{Strategy: identity.Strategy(strategy)}}, nil
	case actionRetry:
		if v.State == flow.StateCallback {
			return flow.Callback{}, nil
		}
		return flow.Next{}, nil
	}
	return nil, errors.Wrapf(errUnknownAction, "action %q", action)
}

func (h *Handler) enabled(strategy string) bool {
	for _, s := range h.OAuthStrategies {
		if s == strategy {
			return identity.Strategy(s).IsRedirect()
		}
	}
	return false
}

// pageData is a data that is needed for rendering a page of the sign-in flow.
type pageData struct {
	CSRFToken   string
	Action      string
	Form        form.Snapshot
	Loading     bool
	Error       string
	Step        flow.Step
	Factor      *identity.Factor
	Factors     []identity.Factor
	Inputs      []string
	Strategies  []string
	SignUpURL   string
	AppRoot     string
	ExampleMode bool
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, s *session) {
	log := logger.FromContext(r.Context())
	v := s.flow.View()
	data := pageData{
		CSRFToken:   nosurf.Token(r),
		Action:      r.URL.Path,
		Form:        s.form.Snapshot(),
		Loading:     v.Loading.Active,
		SignUpURL:   h.SignUpURL,
		AppRoot:     h.AppRoot,
		ExampleMode: h.ExampleMode,
	}
	if v.Err != nil {
		data.Error = errors.Cause(v.Err).Error()
	}

	name := "loading.tmpl"
	switch v.State {
	case flow.StateStart:
		name = "start.tmpl"
		data.Strategies = h.OAuthStrategies
	case flow.StateFirstFactor, flow.StateSecondFactor:
		if vs := v.Verification; vs != nil {
			name = "factor.tmpl"
			if vs.State == flow.VerificationChooseStrategy {
				name = "choose_strategy.tmpl"
			}
			data.Step, data.Factor, data.Factors = vs.Step, vs.Factor, vs.Factors
			if vs.Factor != nil {
				data.Inputs = flow.InputFields(vs.Factor.Strategy)
			}
		}
	case flow.StateCallback:
		name = "callback.tmpl"
	case flow.StateError:
		name = "error.tmpl"
	}

	if err := h.tr.RenderTemplate(w, r, name, data); err != nil {
		log.Infow("Failed to render a sign-in page", "template", name, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// moved returns true if the flow navigated away from the request's location.
func moved(nav *navigation.History, r *http.Request) bool {
	if nav == nil {
		return true
	}
	u, err := url.Parse(nav.Location())
	if err != nil || u.IsAbs() {
		return true
	}
	return u.Path != r.URL.Path
}

// fieldValues returns values of the posted form without control fields.
func fieldValues(vals url.Values) url.Values {
	fields := make(url.Values, len(vals))
	for name, v := range vals {
		switch name {
		case "action", "factor", "strategy", nosurf.FormFieldName:
			continue
		}
		fields[name] = v
	}
	return fields
}

func createdSessionID(a *identity.Attempt, client flow.Client) string {
	if a != nil && a.CreatedSessionID != "" {
		return a.CreatedSessionID
	}
	if a = client.Current(); a != nil {
		return a.CreatedSessionID
	}
	return ""
}
