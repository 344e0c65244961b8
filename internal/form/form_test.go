/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package form_test

import (
	"net/url"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"gopkg.i-core.ru/signflow/internal/form"
)

type fieldErr struct {
	field string
}

func (e *fieldErr) Error() string { return "bad " + e.field }
func (e *fieldErr) Field() string { return e.field }

func TestSetError(t *testing.T) {
	testCases := []struct {
		name            string
		errs            []error
		wantErrors      []string
		wantFieldErrors map[string]string
	}{
		{
			name:            "no errors",
			errs:            []error{nil},
			wantFieldErrors: map[string]string{},
		},
		{
			name:            "global error",
			errs:            []error{errors.New("network is down")},
			wantErrors:      []string{"network is down"},
			wantFieldErrors: map[string]string{},
		},
		{
			name:            "wrapped field error",
			errs:            []error{errors.Wrap(&fieldErr{field: "password"}, "failed to attempt first factor")},
			wantFieldErrors: map[string]string{"password": "bad password"},
		},
		{
			name:            "field error without a field name",
			errs:            []error{&fieldErr{}},
			wantErrors:      []string{"bad "},
			wantFieldErrors: map[string]string{},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := form.New()
			for _, err := range tc.errs {
				m.SetError(err)
			}
			s := m.Snapshot()
			if !reflect.DeepEqual(s.Errors, tc.wantErrors) {
				t.Errorf("wrong errors: got %q; want %q", s.Errors, tc.wantErrors)
			}
			if !reflect.DeepEqual(s.FieldErrors, tc.wantFieldErrors) {
				t.Errorf("wrong field errors: got %q; want %q", s.FieldErrors, tc.wantFieldErrors)
			}
		})
	}
}

func TestUpdateClearsErrors(t *testing.T) {
	m := form.New()
	m.SetError(errors.New("boom"))
	m.SetError(&fieldErr{field: "code"})

	m.Update(form.FromValues(url.Values{"code": {"123456"}, "legalAccepted": {"on"}}))

	s := m.Snapshot()
	if s.HasErrors() {
		t.Errorf("got errors %q %q after update; want no errors", s.Errors, s.FieldErrors)
	}
	if got := m.Fields().Value("code"); got != "123456" {
		t.Errorf("wrong code: got %q; want %q", got, "123456")
	}
	if !m.Fields()["legalAccepted"].Checked {
		t.Error("legalAccepted is not checked")
	}

	m.ClearSecrets("code")
	if _, ok := m.Fields()["code"]; ok {
		t.Error("code is kept after clearing secrets")
	}
}
