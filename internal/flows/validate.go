package flows

import (
	"errors"
	"strconv"

	"github.com/MrEthical07/evalauth/jwt"
)

// ValidateFailureKind classifies access-token failures.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMalformed
	ValidateFailureExpired
	ValidateFailureSignature
)

// ValidateResult returns the claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	ParseAccess func(string) (*jwt.Claims, error)
}

// RunValidateAccess verifies an access token. It is stateless.
func RunValidateAccess(tokenStr string, deps ValidateDeps) ValidateResult {
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return ValidateResult{Failure: ClassifyTokenError(err), Err: err}
	}
	return ValidateResult{Claims: claims}
}

// ClassifyTokenError maps jwt sentinels onto failure kinds.
func ClassifyTokenError(err error) ValidateFailureKind {
	switch {
	case err == nil:
		return ValidateFailureNone
	case errors.Is(err, jwt.ErrExpired):
		return ValidateFailureExpired
	case errors.Is(err, jwt.ErrInvalidSignature):
		return ValidateFailureSignature
	default:
		return ValidateFailureMalformed
	}
}

func subjectID(c *jwt.Claims) int64 {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
