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

// parent is a machine that child machines report to.
type parent interface {
	Send(ev Event)
	Snapshot() RouterSnapshot
}

// StartState is a state of the start machine.
type StartState int

// Start machine states.
const (
	StartPending StartState = iota
	StartAttempting
)

func (s StartState) String() string {
	if s == StartAttempting {
		return "Attempting"
	}
	return "Pending"
}

// StartSnapshot is a copy of the start machine's state.
type StartSnapshot struct {
	State StartState
}

// StartMachine submits an identifier and creates a sign-in attempt.
type StartMachine struct {
	act    *actor
	parent parent
	form   Form
	client Client

	mu    sync.RWMutex
	state StartState
}

func newStartMachine(ctx context.Context, deps Deps, tr *tracker, p parent) *StartMachine {
	return &StartMachine{
		act:    newActor(ctx, "start", tr, deps.Log, deps.Metrics),
		parent: p,
		form:   deps.Form,
		client: deps.Client,
	}
}

func (m *StartMachine) start() {
	go m.act.run(m.handle)
}

// Send delivers an event to the machine.
func (m *StartMachine) Send(ev Event) {
	m.act.send(ev)
}

// Snapshot returns a copy of the machine's state.
func (m *StartMachine) Snapshot() StartSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return StartSnapshot{State: m.state}
}

func (m *StartMachine) handle(msg interface{}) {
	switch msg := msg.(type) {
	case Submit:
		m.transition(StartAttempting)
	case taskDone:
		if m.state != StartAttempting {
			return
		}
		if msg.err != nil {
			m.act.log.Infow("Failed to create a sign-in attempt", zap.Error(msg.err))
			m.form.SetError(msg.err)
		} else {
			m.parent.Send(Next{Attempt: msg.value.(*identity.Attempt)})
		}
		m.transition(StartPending)
	default:
		m.act.log.Debugw("Ignore an unexpected message", "state", m.state, "message", msg)
	}
}

func (m *StartMachine) transition(to StartState) {
	from := m.state
	if from == StartAttempting {
		m.parent.Send(Loading{Step: StepStart})
	}
	m.act.renew()
	m.mu.Lock()
	m.state = to
	m.mu.Unlock()
	m.act.log.Debugw("Transition", "from", from, "to", to)
	m.act.metrics.transition(m.act.name, from, to)

	if to == StartAttempting {
		m.parent.Send(Loading{Active: true, Step: StepStart})
		fields := m.form.Fields()
		m.act.launch(func(ctx context.Context) (interface{}, error) {
			identifier, err := required(fields, FieldIdentifier)
			if err != nil {
				return nil, err
			}
			return m.client.Create(ctx, identity.CreateParams{
				Identifier: identifier,
				Password:   fields.Value(FieldPassword),
			})
		})
	}
}
