package evalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PasswordVerifier is satisfied by *password.Verifier.
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
	VerifyDummy(password string)
}

// CredentialValidator checks an email and password against the identity
// store. It has no side effects: it never records attempts, audits or
// updates the identity.
type CredentialValidator struct {
	identities IdentityProvider
	verifier   PasswordVerifier
	messages   MessagesConfig
}

// NewCredentialValidator wires a validator. Messages supply the failure text;
// inactive accounts get the InvalidCredentials message.
func NewCredentialValidator(identities IdentityProvider, verifier PasswordVerifier, messages MessagesConfig) *CredentialValidator {
	return &CredentialValidator{identities: identities, verifier: verifier, messages: messages}
}

// NormalizeEmail is the identifier form used for lookup and lockout keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate returns Success, InvalidCredentials, AccountInactive or
// SystemError. Unknown emails still pay for one hash verification.
func (v *CredentialValidator) Validate(ctx context.Context, email, plaintext string) AuthResult {
	email = NormalizeEmail(email)
	if email == "" || plaintext == "" {
		v.verifier.VerifyDummy(plaintext)
		return failureResult(ReasonInvalidCredentials, v.messages.InvalidCredentials, 0, nil)
	}

	ident, err := v.identities.IdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			v.verifier.VerifyDummy(plaintext)
			return failureResult(ReasonInvalidCredentials, v.messages.InvalidCredentials, 0, nil)
		}
		return failureResult(ReasonSystemError, v.messages.SystemError, 0, fmt.Errorf("identity lookup: %w", err))
	}

	ok, err := v.verifier.Verify(plaintext, ident.PasswordHash)
	if err != nil {
		// An unreadable stored hash cannot match; report it like a mismatch
		// and keep the cause for the audit trail.
		return failureResult(ReasonInvalidCredentials, v.messages.InvalidCredentials, 0, err)
	}
	if !ok {
		return failureResult(ReasonInvalidCredentials, v.messages.InvalidCredentials, 0, nil)
	}

	if !ident.Active {
		return failureResult(ReasonAccountInactive, v.messages.InvalidCredentials, 0, nil)
	}

	return successResult(ident, v.messages.Success)
}
