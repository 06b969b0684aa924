package evalauth

// Principal is who is asking. It is built from validated access-token
// claims.
type Principal struct {
	IdentityID int64
	Roles      []string
}

// PrincipalFromClaims returns the principal described by c.
func PrincipalFromClaims(c *Claims) Principal {
	if c == nil {
		return Principal{}
	}
	return Principal{IdentityID: c.IdentityID, Roles: cloneStrings(c.Roles)}
}

// HasRole reports whether p holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Capability is a single authorization predicate. Handlers check one
// explicitly instead of relying on inherited access rules.
type Capability interface {
	Allows(Principal) bool
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(Principal) bool

func (f CapabilityFunc) Allows(p Principal) bool { return f(p) }

// RequireRole allows principals holding at least one of roles.
func RequireRole(roles ...string) Capability {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return CapabilityFunc(func(p Principal) bool {
		for _, r := range p.Roles {
			if _, ok := set[r]; ok {
				return true
			}
		}
		return false
	})
}

// RequireOwner allows only the principal whose identity is id.
func RequireOwner(id int64) Capability {
	return CapabilityFunc(func(p Principal) bool {
		return id != 0 && p.IdentityID == id
	})
}

// AnyOf allows when at least one capability does. An empty AnyOf denies.
func AnyOf(caps ...Capability) Capability {
	return CapabilityFunc(func(p Principal) bool {
		for _, c := range caps {
			if c != nil && c.Allows(p) {
				return true
			}
		}
		return false
	})
}

// AllOf allows when every capability does. An empty AllOf denies.
func AllOf(caps ...Capability) Capability {
	return CapabilityFunc(func(p Principal) bool {
		if len(caps) == 0 {
			return false
		}
		for _, c := range caps {
			if c == nil || !c.Allows(p) {
				return false
			}
		}
		return true
	})
}

// Authorize checks cap against the principal in claims. Missing claims give
// ErrUnauthorized, a failed check gives ErrPermissionDenied.
func (e *Engine) Authorize(claims *Claims, cap Capability) error {
	if claims == nil || claims.IdentityID == 0 {
		return ErrUnauthorized
	}
	if cap == nil || !cap.Allows(PrincipalFromClaims(claims)) {
		e.metricInc(MetricAuthorizeDenied)
		return ErrPermissionDenied
	}
	return nil
}
