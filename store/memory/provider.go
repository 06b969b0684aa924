package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/evalauth"
)

// ErrDuplicateEmail is returned by Add when the email is already taken.
var ErrDuplicateEmail = errors.New("memory: email already registered")

// Provider keeps identities in two maps under one RWMutex. Lookups return
// copies, so callers cannot mutate stored identities.
type Provider struct {
	mu      sync.RWMutex
	byID    map[int64]evalauth.Identity
	byEmail map[string]int64
	nextID  int64
}

func NewProvider() *Provider {
	return &Provider{
		byID:    make(map[int64]evalauth.Identity),
		byEmail: make(map[string]int64),
	}
}

// Add stores ident. A zero ID is replaced with the next free one; the stored
// identity is returned.
func (p *Provider) Add(ident evalauth.Identity) (evalauth.Identity, error) {
	email := evalauth.NormalizeEmail(ident.Email)
	if email == "" {
		return evalauth.Identity{}, errors.New("memory: email is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, taken := p.byEmail[email]; taken {
		return evalauth.Identity{}, ErrDuplicateEmail
	}
	if ident.ID == 0 {
		p.nextID++
		ident.ID = p.nextID
	} else if _, taken := p.byID[ident.ID]; taken {
		return evalauth.Identity{}, errors.New("memory: id already registered")
	}
	if ident.ID > p.nextID {
		p.nextID = ident.ID
	}

	ident.Email = email
	ident.Roles = append([]string(nil), ident.Roles...)
	p.byID[ident.ID] = ident
	p.byEmail[email] = ident.ID
	return clone(ident), nil
}

// SetActive flips the active flag. It reports whether the identity exists.
func (p *Provider) SetActive(id int64, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ident, ok := p.byID[id]
	if !ok {
		return false
	}
	ident.Active = active
	p.byID[id] = ident
	return true
}

func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

func (p *Provider) IdentityByEmail(ctx context.Context, email string) (evalauth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return evalauth.Identity{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return evalauth.Identity{}, evalauth.ErrIdentityNotFound
	}
	return clone(p.byID[id]), nil
}

func (p *Provider) IdentityByID(ctx context.Context, id int64) (evalauth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return evalauth.Identity{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ident, ok := p.byID[id]
	if !ok {
		return evalauth.Identity{}, evalauth.ErrIdentityNotFound
	}
	return clone(ident), nil
}

func (p *Provider) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ident, ok := p.byID[id]
	if !ok {
		return evalauth.ErrIdentityNotFound
	}
	ident.LastLoginAt = at
	p.byID[id] = ident
	return nil
}

// UpdatePasswordHash replaces the stored hash of id.
func (p *Provider) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ident, ok := p.byID[id]
	if !ok {
		return evalauth.ErrIdentityNotFound
	}
	ident.PasswordHash = hash
	p.byID[id] = ident
	return nil
}

func clone(ident evalauth.Identity) evalauth.Identity {
	ident.Roles = append([]string(nil), ident.Roles...)
	return ident
}
