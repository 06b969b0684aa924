package prometheus

import (
	"context"
	"time"

	"github.com/MrEthical07/evalauth"
)

type noIdentities struct{}

func (noIdentities) IdentityByEmail(context.Context, string) (evalauth.Identity, error) {
	return evalauth.Identity{}, evalauth.ErrIdentityNotFound
}

func (noIdentities) IdentityByID(context.Context, int64) (evalauth.Identity, error) {
	return evalauth.Identity{}, evalauth.ErrIdentityNotFound
}

func (noIdentities) RecordLogin(context.Context, int64, time.Time) error { return nil }
