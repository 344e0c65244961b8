/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package flow

import (
	"gopkg.i-core.ru/signflow/internal/form"
	"gopkg.i-core.ru/signflow/internal/identity"
)

// Names of form fields that the machines read.
const (
	FieldIdentifier    = "identifier"
	FieldPassword      = "password"
	FieldCode          = "code"
	FieldSignature     = "signature"
	FieldLegalAccepted = "legalAccepted"
)

// otpRank is an order of one-time-code strategies when a password is not preferred.
var otpRank = []identity.Strategy{
	identity.StrategyEmailCode,
	identity.StrategyEmailLink,
	identity.StrategyPhoneCode,
}

// firstFactorStart selects a starting first factor of an attempt.
func firstFactorStart(a *identity.Attempt, preferred identity.Strategy) *identity.Factor {
	if a == nil {
		return nil
	}
	var factors []identity.Factor
	for _, f := range a.SupportedFirstFactors {
		if !f.Strategy.IsRedirect() {
			factors = append(factors, f)
		}
	}
	if len(factors) == 0 {
		return nil
	}

	if preferred == identity.StrategyPassword {
		for _, f := range factors {
			if f.Strategy == identity.StrategyPassword {
				return &f
			}
		}
	}

	ranked := make([]identity.Factor, 0, len(factors))
	for _, s := range otpRank {
		for _, f := range factors {
			if f.Strategy == s {
				ranked = append(ranked, f)
			}
		}
	}
	for _, f := range factors {
		if !isOTP(f.Strategy) {
			ranked = append(ranked, f)
		}
	}

	for _, f := range ranked {
		if f.SafeIdentifier != "" && f.SafeIdentifier == a.Identifier {
			return &f
		}
	}
	return &ranked[0]
}

func isOTP(s identity.Strategy) bool {
	for _, o := range otpRank {
		if o == s {
			return true
		}
	}
	return false
}

// secondFactorStart selects a starting second factor of an attempt.
func secondFactorStart(a *identity.Attempt, _ identity.Strategy) *identity.Factor {
	if a == nil || len(a.SupportedSecondFactors) == 0 {
		return nil
	}
	if v := a.SecondFactorVerification; v != nil && v.Strategy != "" {
		for _, f := range a.SupportedSecondFactors {
			if f.Strategy == v.Strategy {
				return &f
			}
		}
	}
	f := a.SupportedSecondFactors[0]
	return &f
}

// prepareParams returns parameters to prepare a factor.
// It returns false if the factor does not need preparing.
func prepareParams(f *identity.Factor, redirectURL string) (identity.FactorParams, bool) {
	if f == nil {
		return identity.FactorParams{}, false
	}
	p := identity.FactorParams{Strategy: f.Strategy}
	switch f.Strategy {
	case identity.StrategyEmailCode, identity.StrategyResetPasswordEmailCode:
		p.EmailAddressID = f.EmailAddressID
	case identity.StrategyEmailLink:
		p.EmailAddressID = f.EmailAddressID
		p.RedirectURL = redirectURL
	case identity.StrategyPhoneCode, identity.StrategyResetPasswordPhoneCode:
		p.PhoneNumberID = f.PhoneNumberID
	case identity.StrategyWeb3MetamaskSignature:
		p.Web3WalletID = f.Web3WalletID
	default:
		return identity.FactorParams{}, false
	}
	return p, true
}

// firstFactorAttemptParams assembles parameters to attempt a first factor from form fields.
func firstFactorAttemptParams(f *identity.Factor, fields form.Fields) (identity.FactorParams, error) {
	if f == nil {
		return identity.FactorParams{}, &InvalidStrategyError{Step: StepFirstFactor}
	}
	p := identity.FactorParams{Strategy: f.Strategy}
	var err error
	switch f.Strategy {
	case identity.StrategyPassword:
		p.Password, err = required(fields, FieldPassword)
	case identity.StrategyResetPasswordEmailCode, identity.StrategyResetPasswordPhoneCode:
		if p.Code, err = required(fields, FieldCode); err == nil {
			p.Password, err = required(fields, FieldPassword)
		}
	case identity.StrategyEmailCode, identity.StrategyPhoneCode:
		p.Code, err = required(fields, FieldCode)
	case identity.StrategyWeb3MetamaskSignature:
		p.Signature, err = required(fields, FieldSignature)
	default:
		return identity.FactorParams{}, &InvalidStrategyError{Step: StepFirstFactor, Strategy: f.Strategy}
	}
	return p, err
}

// secondFactorAttemptParams assembles parameters to attempt a second factor from form fields.
func secondFactorAttemptParams(f *identity.Factor, fields form.Fields) (identity.FactorParams, error) {
	if f == nil {
		return identity.FactorParams{}, &InvalidStrategyError{Step: StepSecondFactor}
	}
	switch f.Strategy {
	case identity.StrategyPhoneCode, identity.StrategyTOTP, identity.StrategyBackupCode:
		code, err := required(fields, FieldCode)
		return identity.FactorParams{Strategy: f.Strategy, Code: code}, err
	default:
		return identity.FactorParams{}, &InvalidStrategyError{Step: StepSecondFactor, Strategy: f.Strategy}
	}
}

func required(fields form.Fields, name string) (string, error) {
	v := fields.Value(name)
	if v == "" {
		return "", &MissingFieldError{Name: name}
	}
	return v, nil
}

// InputFields returns names of the form fields that a strategy is attempted with.
// Strategies that are verified out of band, like an email link, have no fields.
func InputFields(s identity.Strategy) []string {
	switch s {
	case identity.StrategyPassword:
		return []string{FieldPassword}
	case identity.StrategyResetPasswordEmailCode, identity.StrategyResetPasswordPhoneCode:
		return []string{FieldCode, FieldPassword}
	case identity.StrategyEmailCode, identity.StrategyPhoneCode, identity.StrategyTOTP, identity.StrategyBackupCode:
		return []string{FieldCode}
	case identity.StrategyWeb3MetamaskSignature:
		return []string{FieldSignature}
	}
	return nil
}
