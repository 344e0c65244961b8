/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package navigation is an in-memory navigation history of one browser session.
//
// The history plays the role of a host router: a flow pushes and replaces locations,
// and the HTTP layer redirects a browser to the latest location.
package navigation

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
)

var noop httprouter.Handle = func(http.ResponseWriter, *http.Request, httprouter.Params) {}

// History is a navigation history. It is safe for concurrent use.
type History struct {
	base string

	mu      sync.RWMutex
	entries []string

	routersMu sync.Mutex
	routers   map[string]*httprouter.Router
}

// New creates a history for a flow mounted at the base path and starting at the location.
func New(base, location string) *History {
	return &History{
		base:    "/" + strings.Trim(base, "/"),
		entries: []string{location},
		routers: make(map[string]*httprouter.Router),
	}
}

// Push navigates to a location and appends it to the history.
func (h *History) Push(to string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, to)
}

// Replace navigates to a location and replaces the current entry of the history.
func (h *History) Replace(to string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[len(h.entries)-1] = to
}

// Reset starts the history over at a location, for example, when a browser came to another URL.
func (h *History) Reset(location string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = []string{location}
}

// Location returns the current location as it was pushed or replaced.
func (h *History) Location() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries[len(h.entries)-1]
}

// Len returns a number of entries in the history.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Pathname returns the path of the current location.
func (h *History) Pathname() string {
	loc := h.Location()
	u, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	return u.Path
}

// Match returns true if the current location matches a pattern relative to the base path.
// Patterns use httprouter syntax, e.g. "/continue" or "/factor/:strategy".
func (h *History) Match(pattern string) bool {
	router := h.router(h.Path(pattern))
	handle, _, tsr := router.Lookup(http.MethodGet, h.Pathname())
	return handle != nil || tsr
}

// MatchIndex returns true if the current location is the root of the flow.
func (h *History) MatchIndex() bool {
	return h.Match("/")
}

// Path returns an absolute path of a path relative to the base path.
func (h *History) Path(rel string) string {
	if rel == "" || rel == "/" {
		return strings.TrimSuffix(h.base, "/") + "/"
	}
	return strings.TrimSuffix(h.base, "/") + "/" + strings.TrimPrefix(rel, "/")
}

func (h *History) router(pattern string) *httprouter.Router {
	h.routersMu.Lock()
	defer h.routersMu.Unlock()
	r, ok := h.routers[pattern]
	if !ok {
		r = httprouter.New()
		r.GET(pattern, noop)
		h.routers[pattern] = r
	}
	return r
}
