/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package identity is a client of the identity service that negotiates sign-in attempts.
//
// One Client instance is one client session: it remembers the current sign-in attempt
// and addresses all factor operations to it.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Config is a configuration of the identity service's client.
type Config struct {
	URL            string        `envconfig:"url" required:"true" desc:"a base URL of the identity service's frontend API"`
	PublishableKey string        `envconfig:"publishable_key" json:"-" desc:"a publishable key of the application"`
	Timeout        time.Duration `envconfig:"timeout" default:"10s" desc:"a timeout of requests to the identity service"`
}

type factorStep string

const (
	firstFactor  factorStep = "first_factor"
	secondFactor factorStep = "second_factor"
)

// Client is a client session of the identity service.
type Client struct {
	Config
	httpc *http.Client

	mu      sync.RWMutex
	current *Attempt
}

// NewClient creates a new client session.
func NewClient(cnf Config) *Client {
	return &Client{Config: cnf, httpc: &http.Client{Timeout: cnf.Timeout}}
}

// Current returns the latest sign-in attempt known to the client session, or nil.
func (c *Client) Current() *Attempt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// remember makes a valid attempt the current one. An invalid attempt is dropped.
func (c *Client) remember(a *Attempt) (*Attempt, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.current = a
	c.mu.Unlock()
	return a, nil
}

func (c *Client) currentID() (string, error) {
	a := c.Current()
	if a == nil || a.ID == "" {
		return "", ErrNoAttempt
	}
	return a.ID, nil
}

// Create creates a new sign-in attempt.
func (c *Client) Create(ctx context.Context, params CreateParams) (*Attempt, error) {
	var a Attempt
	if err := c.do(ctx, http.MethodPost, "v1/client/sign_ins", params, &a); err != nil {
		return nil, errors.Wrap(err, "failed to create sign-in attempt")
	}
	res, err := c.remember(&a)
	return res, errors.Wrap(err, "failed to create sign-in attempt")
}

// Reload fetches the current sign-in attempt from the identity service.
func (c *Client) Reload(ctx context.Context) (*Attempt, error) {
	id, err := c.currentID()
	if err != nil {
		return nil, err
	}
	var a Attempt
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/client/sign_ins/%s", url.PathEscape(id)), nil, &a); err != nil {
		return nil, errors.Wrap(err, "failed to reload sign-in attempt")
	}
	res, err := c.remember(&a)
	return res, errors.Wrap(err, "failed to reload sign-in attempt")
}

// PrepareFirstFactor prepares the first factor, for example, sends a one-time code.
func (c *Client) PrepareFirstFactor(ctx context.Context, params FactorParams) (*Attempt, error) {
	a, err := c.factorRequest(ctx, "prepare", firstFactor, params)
	return a, errors.Wrap(err, "failed to prepare first factor")
}

// AttemptFirstFactor verifies the first factor.
func (c *Client) AttemptFirstFactor(ctx context.Context, params FactorParams) (*Attempt, error) {
	a, err := c.factorRequest(ctx, "attempt", firstFactor, params)
	return a, errors.Wrap(err, "failed to attempt first factor")
}

// PrepareSecondFactor prepares the second factor.
func (c *Client) PrepareSecondFactor(ctx context.Context, params FactorParams) (*Attempt, error) {
	a, err := c.factorRequest(ctx, "prepare", secondFactor, params)
	return a, errors.Wrap(err, "failed to prepare second factor")
}

// AttemptSecondFactor verifies the second factor.
func (c *Client) AttemptSecondFactor(ctx context.Context, params FactorParams) (*Attempt, error) {
	a, err := c.factorRequest(ctx, "attempt", secondFactor, params)
	return a, errors.Wrap(err, "failed to attempt second factor")
}

func (c *Client) factorRequest(ctx context.Context, op string, step factorStep, params FactorParams) (*Attempt, error) {
	id, err := c.currentID()
	if err != nil {
		return nil, err
	}
	var a Attempt
	p := fmt.Sprintf("v1/client/sign_ins/%s/%s_%s", url.PathEscape(id), op, step)
	if err := c.do(ctx, http.MethodPost, p, params, &a); err != nil {
		return nil, err
	}
	return c.remember(&a)
}

// AuthenticateWithRedirect creates a sign-in attempt for a redirect strategy
// and navigates to the third-party provider.
func (c *Client) AuthenticateWithRedirect(ctx context.Context, params RedirectParams, navigate NavigateFunc) error {
	var a Attempt
	if err := c.do(ctx, http.MethodPost, "v1/client/sign_ins", params, &a); err != nil {
		return errors.Wrap(err, "failed to authenticate with redirect")
	}
	if _, err := c.remember(&a); err != nil {
		return errors.Wrap(err, "failed to authenticate with redirect")
	}
	v := a.FirstFactorVerification
	if v == nil || v.ExternalVerificationRedirectURL == "" {
		return ErrNoRedirectURL
	}
	return navigate(v.ExternalVerificationRedirectURL)
}

// HandleRedirectCallback completes a redirect sign-in after the third-party provider returned control.
// It navigates to one of the URLs depending on the outcome and returns the reloaded attempt.
func (c *Client) HandleRedirectCallback(ctx context.Context, urls CallbackURLs, navigate NavigateFunc) (*Attempt, error) {
	a, err := c.Reload(ctx)
	if err != nil {
		return nil, err
	}
	if v := a.FirstFactorVerification; v != nil && v.Error != nil {
		return a, v.Error
	}
	var to string
	switch {
	case a.FirstFactorVerification.Transferable():
		to = urls.SignUp
	case a.Status == StatusComplete:
		to = urls.Complete
	case a.Status == StatusNeedsFirstFactor:
		to = urls.FirstFactor
	case a.Status == StatusNeedsSecondFactor:
		to = urls.SecondFactor
	case a.Status == StatusNeedsNewPassword:
		to = urls.ResetPassword
	case a.Status == StatusNeedsIdentifier:
		to = urls.SignIn
	default:
		return a, fmt.Errorf("unexpected sign-in status %q after redirect", a.Status)
	}
	return a, navigate(to)
}

// SetActive makes the session that was created by the sign-in the active session of the client.
func (c *Client) SetActive(ctx context.Context, sessionID string) error {
	p := fmt.Sprintf("v1/client/sessions/%s/touch", url.PathEscape(sessionID))
	return errors.Wrap(c.do(ctx, http.MethodPost, p, nil, nil), "failed to set active session")
}

// Ping checks that the identity service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return errors.Wrap(c.do(ctx, http.MethodGet, "v1/environment", nil, nil), "failed to ping identity service")
}

func (c *Client) do(ctx context.Context, method, ref string, data, result interface{}) error {
	u, err := resolveURL(c.URL, ref)
	if err != nil {
		return err
	}

	var body []byte
	if data != nil {
		if body, err = json.Marshal(data); err != nil {
			return err
		}
	}

	r, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	r = r.WithContext(ctx)
	if data != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if c.PublishableKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.PublishableKey)
	}

	resp, err := c.httpc.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err = checkResponse(resp); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 302 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusNotFound:
		return ErrAttemptNotFound
	default:
		var rs struct {
			Errors []*APIError `json:"errors"`
		}
		data, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &rs); err != nil || len(rs.Errors) == 0 {
			return fmt.Errorf("bad HTTP status code %d", resp.StatusCode)
		}
		apiErr := rs.Errors[0]
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
}

func resolveURL(base, ref string) (string, error) {
	if len(base) > 0 && base[len(base)-1] != '/' {
		base += "/"
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
