/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package signin

import (
	"sync"
	"time"

	"github.com/coocood/freecache"
	"golang.org/x/time/rate"
	"gopkg.i-core.ru/signflow/internal/flow"
	"gopkg.i-core.ru/signflow/internal/form"
	"gopkg.i-core.ru/signflow/internal/navigation"
)

// session is a browser session. Requests of one browser are handled one at a time.
type session struct {
	id      string
	client  flow.Client
	form    *form.Model
	limiter *rate.Limiter

	mu   sync.Mutex
	nav  *navigation.History
	flow *flow.Flow

	// seen is guarded by the registry's mutex.
	seen time.Time
}

func (s *session) closeFlow() {
	if s.flow != nil {
		s.flow.Close()
		s.flow = nil
	}
}

func (s *session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFlow()
}

// registry keeps browser sessions in memory and releases sessions that have been idle for too long.
type registry struct {
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry(idle time.Duration) *registry {
	return &registry{idle: idle, now: time.Now, sessions: make(map[string]*session)}
}

func (reg *registry) get(id string) (*session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.sweep()
	s, ok := reg.sessions[id]
	if ok {
		s.seen = reg.now()
	}
	return s, ok
}

func (reg *registry) add(s *session) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s.seen = reg.now()
	reg.sessions[s.id] = s
}

func (reg *registry) len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.sessions)
}

// sweep must be called with the registry's mutex held.
func (reg *registry) sweep() {
	if reg.idle <= 0 {
		return
	}
	now := reg.now()
	for id, s := range reg.sessions {
		if now.Sub(s.seen) > reg.idle {
			delete(reg.sessions, id)
			// A request of the session may still be running.
			go s.release()
		}
	}
}

// activeSessions remembers sessions that browsers signed in to.
type activeSessions struct {
	cache *freecache.Cache
	ttl   time.Duration
}

// newActiveSessions creates a cache of the specified size in KiB.
func newActiveSessions(size int, ttl time.Duration) *activeSessions {
	return &activeSessions{cache: freecache.NewCache(size * 1024), ttl: ttl}
}

// get returns a session that the browser is signed in to, or an empty string.
func (a *activeSessions) get(browserID string) string {
	v, err := a.cache.Get([]byte(browserID))
	if err != nil {
		return ""
	}
	return string(v)
}

func (a *activeSessions) set(browserID, sessionID string) error {
	return a.cache.Set([]byte(browserID), []byte(sessionID), int(a.ttl.Seconds()))
}
