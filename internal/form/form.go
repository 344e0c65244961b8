/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package form is a model of a sign-in form: values of fields and errors surfaced to a user.
package form

import (
	"net/url"
	"sync"

	"github.com/pkg/errors"
)

// Field is a value of a form field.
type Field struct {
	Value   string
	Checked bool
}

// Fields is a set of form fields by names.
type Fields map[string]Field

// Value returns a value of a field or an empty string.
func (fs Fields) Value(name string) string {
	return fs[name].Value
}

// FromValues converts posted form values to fields. A field is checked when its value is "on" or "true".
func FromValues(vals url.Values) Fields {
	fs := make(Fields, len(vals))
	for name := range vals {
		v := vals.Get(name)
		fs[name] = Field{Value: v, Checked: v == "on" || v == "true"}
	}
	return fs
}

type fielder interface {
	Field() string
}

// Snapshot is a copy of a form's state for rendering.
type Snapshot struct {
	Fields      Fields
	Errors      []string
	FieldErrors map[string]string
}

// HasErrors returns true if the snapshot contains any error.
func (s Snapshot) HasErrors() bool {
	return len(s.Errors) > 0 || len(s.FieldErrors) > 0
}

// Model is a form model. It is safe for concurrent use.
type Model struct {
	mu        sync.RWMutex
	fields    Fields
	errs      []string
	fieldErrs map[string]string
}

// New creates a new empty form model.
func New() *Model {
	return &Model{fields: Fields{}, fieldErrs: map[string]string{}}
}

// Fields returns a copy of the form fields.
func (m *Model) Fields() Fields {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fs := make(Fields, len(m.fields))
	for k, v := range m.fields {
		fs[k] = v
	}
	return fs
}

// Update replaces the form fields and clears previously surfaced errors.
func (m *Model) Update(fs Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = make(Fields, len(fs))
	for k, v := range fs {
		m.fields[k] = v
	}
	m.errs = nil
	m.fieldErrs = map[string]string{}
}

// SetError surfaces an error. An error that relates to a field is attached to that field.
func (m *Model) SetError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fe, ok := errors.Cause(err).(fielder); ok && fe.Field() != "" {
		m.fieldErrs[fe.Field()] = errors.Cause(err).Error()
		return
	}
	m.errs = append(m.errs, errors.Cause(err).Error())
}

// ClearSecrets removes values of the named fields, for example, passwords and codes.
func (m *Model) ClearSecrets(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		delete(m.fields, name)
	}
}

// Snapshot returns a copy of the form's state.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		Fields:      make(Fields, len(m.fields)),
		Errors:      append([]string(nil), m.errs...),
		FieldErrors: make(map[string]string, len(m.fieldErrs)),
	}
	for k, v := range m.fields {
		s.Fields[k] = v
	}
	for k, v := range m.fieldErrs {
		s.FieldErrors[k] = v
	}
	return s
}
