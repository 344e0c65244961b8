/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

package identity

import (
	"strings"

	"github.com/pkg/errors"
)

// Status is a sign-in attempt's status.
type Status string

// Sign-in attempt statuses.
const (
	StatusNeedsIdentifier   Status = "needs_identifier"
	StatusNeedsFirstFactor  Status = "needs_first_factor"
	StatusNeedsSecondFactor Status = "needs_second_factor"
	StatusNeedsNewPassword  Status = "needs_new_password"
	StatusComplete          Status = "complete"
)

// Strategy is a name of an authentication strategy.
type Strategy string

// Known strategies.
const (
	StrategyPassword               Strategy = "password"
	StrategyEmailCode              Strategy = "email_code"
	StrategyPhoneCode              Strategy = "phone_code"
	StrategyEmailLink              Strategy = "email_link"
	StrategyResetPasswordEmailCode Strategy = "reset_password_email_code"
	StrategyResetPasswordPhoneCode Strategy = "reset_password_phone_code"
	StrategyWeb3MetamaskSignature  Strategy = "web3_metamask_signature"
	StrategyTOTP                   Strategy = "totp"
	StrategyBackupCode             Strategy = "backup_code"
	StrategySAML                   Strategy = "saml"
)

const (
	oauthStrategyPrefix            = "oauth_"
	verificationStatusTransferable = "transferable"
)

// IsRedirect returns true if the strategy authenticates via a third-party redirect (OAuth or SAML).
func (s Strategy) IsRedirect() bool {
	return s == StrategySAML || strings.HasPrefix(string(s), oauthStrategyPrefix)
}

// Factor is an authentication strategy that is supported by a sign-in attempt, with its parameters.
type Factor struct {
	Strategy       Strategy `json:"strategy"`
	SafeIdentifier string   `json:"safe_identifier,omitempty"`
	EmailAddressID string   `json:"email_address_id,omitempty"`
	PhoneNumberID  string   `json:"phone_number_id,omitempty"`
	Web3WalletID   string   `json:"web3_wallet_id,omitempty"`
	Primary        bool     `json:"primary,omitempty"`
}

// Verification is a state of the verification of one factor.
type Verification struct {
	Status                          string    `json:"status"`
	Strategy                        Strategy  `json:"strategy"`
	ExternalVerificationRedirectURL string    `json:"external_verification_redirect_url,omitempty"`
	Error                           *APIError `json:"error,omitempty"`
}

// Transferable returns true if the identity service decided that the identifier belongs to a sign-up.
func (v *Verification) Transferable() bool {
	return v != nil && v.Status == verificationStatusTransferable
}

// Attempt is a sign-in attempt, a remote resource that tracks one sign-in negotiation.
type Attempt struct {
	ID                       string        `json:"id"`
	Status                   Status        `json:"status"`
	Identifier               string        `json:"identifier,omitempty"`
	SupportedFirstFactors    []Factor      `json:"supported_first_factors"`
	SupportedSecondFactors   []Factor      `json:"supported_second_factors"`
	FirstFactorVerification  *Verification `json:"first_factor_verification,omitempty"`
	SecondFactorVerification *Verification `json:"second_factor_verification,omitempty"`
	CreatedSessionID         string        `json:"created_session_id,omitempty"`
}

// Validate checks that a session is created if and only if the attempt is complete.
func (a *Attempt) Validate() error {
	if a.Status == StatusComplete && a.CreatedSessionID == "" {
		return errors.Wrapf(ErrInvalidAttempt, "attempt %q is complete without a session", a.ID)
	}
	if a.Status != StatusComplete && a.CreatedSessionID != "" {
		return errors.Wrapf(ErrInvalidAttempt, "attempt %q has a session but its status is %q", a.ID, a.Status)
	}
	return nil
}

// CreateParams is parameters for creating a sign-in attempt.
type CreateParams struct {
	Identifier string   `json:"identifier,omitempty"`
	Password   string   `json:"password,omitempty"`
	Strategy   Strategy `json:"strategy,omitempty"`
}

// FactorParams is parameters for preparing or attempting a factor.
type FactorParams struct {
	Strategy       Strategy `json:"strategy"`
	EmailAddressID string   `json:"email_address_id,omitempty"`
	PhoneNumberID  string   `json:"phone_number_id,omitempty"`
	Web3WalletID   string   `json:"web3_wallet_id,omitempty"`
	RedirectURL    string   `json:"redirect_url,omitempty"`
	Password       string   `json:"password,omitempty"`
	Code           string   `json:"code,omitempty"`
	Signature      string   `json:"signature,omitempty"`
}

// RedirectParams is parameters for a sign-in via a third-party redirect.
type RedirectParams struct {
	Strategy            Strategy `json:"strategy"`
	Identifier          string   `json:"identifier,omitempty"`
	RedirectURL         string   `json:"redirect_url"`
	RedirectURLComplete string   `json:"action_complete_redirect_url,omitempty"`
	LegalAccepted       bool     `json:"legal_accepted,omitempty"`
}

// CallbackURLs is a set of URLs that a redirect callback navigates to depending on the sign-in outcome.
type CallbackURLs struct {
	SignIn        string
	SignUp        string
	FirstFactor   string
	SecondFactor  string
	ResetPassword string
	Verification  string
	Complete      string
}

// NavigateFunc navigates a host application to a URL.
type NavigateFunc func(to string) error
