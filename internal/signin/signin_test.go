/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package signin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.i-core.ru/signflow/internal/flow"
	"gopkg.i-core.ru/signflow/internal/identity"
	"gopkg.i-core.ru/signflow/internal/logger"
	"gopkg.i-core.ru/signflow/internal/server"
)

var testConfig = Config{
	BasePath:          "/sign-in",
	AfterSignInURL:    "/dashboard",
	SignUpURL:         "/sign-up",
	AppRoot:           "/",
	SingleSession:     true,
	PreferredStrategy: "password",
	SessionTTL:        time.Hour,
	CacheSize:         512,
	SettleTimeout:     5 * time.Second,
	IdleTimeout:       time.Hour,
	SubmitRate:        100,
	SubmitBurst:       100,
}

// testIdentityService emulates the frontend API of the identity service.
type testIdentityService struct {
	mu        sync.Mutex
	attempt   *identity.Attempt
	redirects []identity.RedirectParams
	touched   []string
}

func (s *testIdentityService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/client/sign_ins":
		var p identity.RedirectParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch {
		case p.Strategy.IsRedirect():
			s.redirects = append(s.redirects, p)
			s.attempt = &identity.Attempt{
				ID:     "sia_2",
				Status: identity.StatusNeedsFirstFactor,
				FirstFactorVerification: &identity.Verification{
					Status:                          "unverified",
					Strategy:                        p.Strategy,
					ExternalVerificationRedirectURL: "https://accounts.example.org/auth?state=foo",
				},
			}
		case p.Identifier == "joe":
			s.attempt = &identity.Attempt{
				ID:                    "sia_1",
				Status:                identity.StatusNeedsFirstFactor,
				Identifier:            "joe",
				SupportedFirstFactors: []identity.Factor{{Strategy: identity.StrategyPassword}},
			}
		default:
			writeAPIError(w, "form_identifier_not_found", "Couldn't find your account.", "identifier")
			return
		}
		json.NewEncoder(w).Encode(s.attempt)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/client/sign_ins/sia_1/attempt_first_factor":
		var p identity.FactorParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if p.Password != "secret" {
			writeAPIError(w, "form_password_incorrect", "Password is incorrect.", "password")
			return
		}
		s.attempt = &identity.Attempt{ID: "sia_1", Status: identity.StatusComplete, CreatedSessionID: "sess_1"}
		json.NewEncoder(w).Encode(s.attempt)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/client/sign_ins/sia_2":
		// The provider has verified the user.
		s.attempt = &identity.Attempt{ID: "sia_2", Status: identity.StatusComplete, CreatedSessionID: "sess_2"}
		json.NewEncoder(w).Encode(s.attempt)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/client/sessions/"):
		s.touched = append(s.touched, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/client/sessions/"), "/touch"))
		fmt.Fprint(w, "{}")
	default:
		http.NotFound(w, r)
	}
}

func writeAPIError(w http.ResponseWriter, code, msg, param string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	fmt.Fprintf(w, `{"errors":[{"code":%q,"message":%q,"meta":{"param_name":%q}}]}`, code, msg, param)
}

type testRenderer struct {
	mu   sync.Mutex
	name string
	data pageData
}

func (r *testRenderer) RenderTemplate(w http.ResponseWriter, _ *http.Request, name string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name, r.data = name, data.(pageData)
	fmt.Fprint(w, name)
	return nil
}

func (r *testRenderer) last() (string, pageData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name, r.data
}

// testBrowser sends requests to the sign-in handler and keeps its cookies.
type testBrowser struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
}

func (b *testBrowser) get(target string) *httptest.ResponseRecorder {
	return b.do(http.MethodGet, target, nil)
}

func (b *testBrowser) post(target string, vals url.Values) *httptest.ResponseRecorder {
	return b.do(http.MethodPost, target, vals)
}

func (b *testBrowser) do(method, target string, vals url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if vals != nil {
		body = strings.NewReader(vals.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if vals != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)
	if cs := rr.Result().Cookies(); len(cs) > 0 {
		b.cookies = cs
	}
	return rr
}

func requireRedirect(t *testing.T, rr *httptest.ResponseRecorder, wantLoc string) {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
	require.Equal(t, wantLoc, rr.Header().Get("Location"))
}

func newTestBrowser(t *testing.T, cnf Config) (*testBrowser, *testRenderer, *testIdentityService, *Handler) {
	svc := &testIdentityService{}
	ts := httptest.NewServer(svc)
	t.Cleanup(ts.Close)

	tr := &testRenderer{}
	newClient := func() flow.Client {
		return identity.NewClient(identity.Config{URL: ts.URL, Timeout: 5 * time.Second})
	}
	h := NewHandler(cnf, newClient, tr, flow.NewMetrics(prometheus.NewRegistry()), nil)
	router := server.NewRouter()
	router.AddRoutes(h, cnf.BasePath)
	return &testBrowser{t: t, handler: router}, tr, svc, h
}

func TestPasswordSignIn(t *testing.T) {
	b, tr, svc, _ := newTestBrowser(t, testConfig)

	rr := b.get("/sign-in/")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, b.cookies, 1)
	require.Equal(t, cookieName, b.cookies[0].Name)
	name, _ := tr.last()
	require.Equal(t, "start.tmpl", name)

	// Unknown identifier.
	requireRedirect(t, b.post("/sign-in/", url.Values{"action": {"submit"}, "identifier": {"nobody"}}), "/sign-in/")
	require.Equal(t, http.StatusOK, b.get("/sign-in/").Code)
	name, data := tr.last()
	require.Equal(t, "start.tmpl", name)
	require.Equal(t, "form_identifier_not_found: Couldn't find your account.", data.Form.FieldErrors["identifier"])
	require.Equal(t, "nobody", data.Form.Fields.Value("identifier"))

	requireRedirect(t, b.post("/sign-in/", url.Values{"action": {"submit"}, "identifier": {"joe"}}), "/sign-in/continue")
	require.Equal(t, http.StatusOK, b.get("/sign-in/continue").Code)
	name, data = tr.last()
	require.Equal(t, "factor.tmpl", name)
	require.Equal(t, flow.StepFirstFactor, data.Step)
	require.Equal(t, []string{flow.FieldPassword}, data.Inputs)
	require.False(t, data.Form.HasErrors())

	// Wrong password.
	requireRedirect(t, b.post("/sign-in/continue", url.Values{"action": {"submit"}, "password": {"wrong"}}), "/sign-in/continue")
	require.Equal(t, http.StatusOK, b.get("/sign-in/continue").Code)
	_, data = tr.last()
	require.Equal(t, "form_password_incorrect: Password is incorrect.", data.Form.FieldErrors["password"])
	require.Empty(t, data.Form.Fields.Value("password"), "a password must not be kept in the form")

	requireRedirect(t, b.post("/sign-in/continue", url.Values{"action": {"submit"}, "password": {"secret"}}), "/dashboard")
	svc.mu.Lock()
	require.Equal(t, []string{"sess_1"}, svc.touched)
	svc.mu.Unlock()

	// The browser is signed in already.
	requireRedirect(t, b.get("/sign-in/"), "/")
}

func TestThirdPartySignIn(t *testing.T) {
	cnf := testConfig
	cnf.OAuthStrategies = []string{"oauth_google"}
	b, tr, svc, _ := newTestBrowser(t, cnf)

	require.Equal(t, http.StatusOK, b.get("/sign-in/").Code)
	_, data := tr.last()
	require.Equal(t, []string{"oauth_google"}, data.Strategies)

	rr := b.post("/sign-in/", url.Values{"action": {"redirect"}, "strategy": {"oauth_google"}, "legalAccepted": {"on"}})
	requireRedirect(t, rr, "https://accounts.example.org/auth?state=foo")
	svc.mu.Lock()
	require.Equal(t, []identity.RedirectParams{{
		Strategy:            "oauth_google",
		RedirectURL:         "/sign-in/sso-callback",
		RedirectURLComplete: "/dashboard",
		LegalAccepted:       true,
	}}, svc.redirects)
	svc.mu.Unlock()

	// The provider returns the browser back.
	requireRedirect(t, b.get("/sign-in/sso-callback?state=foo"), "/dashboard")
	svc.mu.Lock()
	require.Equal(t, []string{"sess_2"}, svc.touched)
	svc.mu.Unlock()
}

func TestInvalidAction(t *testing.T) {
	testCases := []struct {
		name string
		vals url.Values
	}{
		{name: "unknown action", vals: url.Values{"action": {"bogus"}}},
		{name: "no action", vals: url.Values{}},
		{name: "strategy is not enabled", vals: url.Values{"action": {"redirect"}, "strategy": {"oauth_github"}}},
		{name: "no factors to choose from", vals: url.Values{"action": {"strategy"}, "factor": {"0"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cnf := testConfig
			cnf.OAuthStrategies = []string{"oauth_google"}
			b, _, _, _ := newTestBrowser(t, cnf)
			rr := b.post("/sign-in/", tc.vals)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestThrottling(t *testing.T) {
	cnf := testConfig
	cnf.SubmitRate, cnf.SubmitBurst = 0.001, 1
	b, _, _, _ := newTestBrowser(t, cnf)

	requireRedirect(t, b.post("/sign-in/", url.Values{"action": {"submit"}, "identifier": {"nobody"}}), "/sign-in/")
	rr := b.post("/sign-in/", url.Values{"action": {"submit"}, "identifier": {"nobody"}})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRemountOnNavigation(t *testing.T) {
	b, tr, _, h := newTestBrowser(t, testConfig)

	// No sign-in attempt yet, so the flow starts over.
	requireRedirect(t, b.get("/sign-in/continue"), "/sign-in/")
	require.Equal(t, http.StatusOK, b.get("/sign-in/").Code)
	name, _ := tr.last()
	require.Equal(t, "start.tmpl", name)
	require.Equal(t, 1, h.sessions.len())
}

func TestReleasedSessionKeepsBrowserID(t *testing.T) {
	b, _, _, h := newTestBrowser(t, testConfig)
	require.Equal(t, http.StatusOK, b.get("/sign-in/").Code)
	id := b.cookies[0].Value

	h.sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, h.active.set(id, "sess_1"))

	requireRedirect(t, b.get("/sign-in/"), "/")
	require.Equal(t, id, b.cookies[0].Value)
}

func TestRegistrySweep(t *testing.T) {
	now := time.Now()
	reg := newRegistry(time.Minute)
	reg.now = func() time.Time { return now }
	reg.add(&session{id: "a"})
	reg.add(&session{id: "b"})

	now = now.Add(30 * time.Second)
	_, ok := reg.get("a")
	require.True(t, ok)

	now = now.Add(45 * time.Second)
	_, ok = reg.get("a")
	require.True(t, ok, "a session that was seen recently must be kept")
	require.Equal(t, 1, reg.len())
}

func TestActiveSessions(t *testing.T) {
	a := newActiveSessions(512, time.Hour)
	require.Empty(t, a.get("browser"))
	require.NoError(t, a.set("browser", "sess_1"))
	require.Equal(t, "sess_1", a.get("browser"))
}

func TestFieldValues(t *testing.T) {
	got := fieldValues(url.Values{
		"action":     {"submit"},
		"csrf_token": {"token"},
		"strategy":   {"oauth_google"},
		"identifier": {"joe"},
		"password":   {"secret"},
	})
	require.Equal(t, url.Values{"identifier": {"joe"}, "password": {"secret"}}, got)
}

func TestActionLogStage(t *testing.T) {
	svc := &testIdentityService{}
	ts := httptest.NewServer(svc)
	t.Cleanup(ts.Close)

	core, logs := observer.New(zap.DebugLevel)
	newClient := func() flow.Client {
		return identity.NewClient(identity.Config{URL: ts.URL, Timeout: 5 * time.Second})
	}
	h := NewHandler(testConfig, newClient, &testRenderer{}, flow.NewMetrics(prometheus.NewRegistry()), nil)
	router := server.NewRouter(logger.RequestLog(zap.New(core).Sugar()))
	router.AddRoutes(h, testConfig.BasePath)
	b := &testBrowser{t: t, handler: router}

	require.Equal(t, http.StatusBadRequest, b.post("/sign-in/", url.Values{"action": {"bogus"}}).Code)

	entries := logs.FilterMessage("Invalid sign-in action").All()
	require.Len(t, entries, 1)
	require.Equal(t, "/", entries[0].ContextMap()["stage"])
	require.Equal(t, "bogus", entries[0].ContextMap()["action"])
}
