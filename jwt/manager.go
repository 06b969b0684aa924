package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the signature algorithm used for both token types.
type SigningMethod string

const (
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with EdDSA; verification only needs the public key.
	MethodEd25519 SigningMethod = "ed25519"
)

// TokenType is the discriminator carried in the "typ" claim. Access and
// refresh tokens share one parser, so every parse states which type it expects.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

const minHMACKeyLength = 32

var (
	// ErrMalformed reports a token that cannot be decoded, is missing required
	// claims, or carries the wrong token type.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired reports a correctly signed token whose exp has passed.
	ErrExpired = errors.New("expired token")
	// ErrInvalidSignature reports a token that was not minted by this manager:
	// bad signature, unexpected algorithm, unknown kid, or foreign issuer/audience.
	ErrInvalidSignature = errors.New("invalid token signature")
)

// Config carries the signing material and lifetimes. Keys are passed in
// explicitly and copied; the manager never reads them from the environment.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	// SigningKey is the HMAC secret for hs256 or the Ed25519 private key
	// (raw 64 bytes or PEM) for ed25519.
	SigningKey []byte
	// VerifyKey is the Ed25519 public key. Unused for hs256.
	VerifyKey []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
	// KeyID is written to the kid header when set.
	KeyID string
	// VerifyKeys holds additional verification keys by kid, so tokens signed
	// before a key rotation keep validating until they expire.
	VerifyKeys map[string][]byte
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Claims is the payload of both token types. Subject is the decimal identity ID
// and ID (jti) is a random UUID.
type Claims struct {
	Type  TokenType `json:"typ"`
	Roles []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Issued is a freshly signed token together with the claims it carries.
type Issued struct {
	Token  string
	Claims *Claims
}

// Manager issues and validates signed tokens. It is immutable after
// construction and safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL < time.Second {
		return nil, errors.New("access TTL must be at least one second")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.SigningKey) < minHMACKeyLength {
			return nil, fmt.Errorf("hs256 signing key must be at least %d bytes", minHMACKeyLength)
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.SigningKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.VerifyKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if cfg.SigningMethod == MethodEd25519 {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	}
	if len(cfg.VerifyKeys) > 0 && cfg.KeyID == "" {
		return nil, errors.New("KeyID is required when VerifyKeys are configured")
	}

	cfg.SigningKey = cloneBytes(cfg.SigningKey)
	cfg.VerifyKey = cloneBytes(cfg.VerifyKey)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs a short-lived access token for subject with its role set.
func (m *Manager) IssueAccess(subject string, roles []string) (Issued, error) {
	return m.issue(TypeAccess, subject, roles, m.now(), m.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token for subject. Roles are not
// embedded; a refresh re-reads them from the identity store.
func (m *Manager) IssueRefresh(subject string) (Issued, error) {
	return m.issue(TypeRefresh, subject, nil, m.now(), m.config.RefreshTTL)
}

// IssuePair signs an access and a refresh token from the same instant, so the
// access expiry never exceeds the refresh expiry.
func (m *Manager) IssuePair(subject string, roles []string) (access Issued, refresh Issued, err error) {
	now := m.now()
	access, err = m.issue(TypeAccess, subject, roles, now, m.config.AccessTTL)
	if err != nil {
		return Issued{}, Issued{}, err
	}
	refresh, err = m.issue(TypeRefresh, subject, nil, now, m.config.RefreshTTL)
	if err != nil {
		return Issued{}, Issued{}, err
	}
	return access, refresh, nil
}

func (m *Manager) issue(typ TokenType, subject string, roles []string, now time.Time, ttl time.Duration) (Issued, error) {
	if strings.TrimSpace(subject) == "" {
		return Issued{}, errors.New("token subject is required")
	}

	claims := &Claims{
		Type:  typ,
		Roles: cloneRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	key, err := m.signKey()
	if err != nil {
		return Issued{}, err
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Issued{Token: signed, Claims: claims}, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry, then checks
// that the token type matches want. The returned error is always one of
// ErrMalformed, ErrExpired or ErrInvalidSignature (possibly wrapped).
func (m *Manager) Parse(tokenStr string, want TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrMalformed)
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: token type %q, want %q", ErrMalformed, claims.Type, want)
	}
	return claims, nil
}

// IsExpired is a pure clock check on the exp claim. The signature is not
// verified. A token whose expiry cannot be read counts as expired.
func (m *Manager) IsExpired(tokenStr string) bool {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return true
	}
	// ParseUnverified still decodes the signature segment, so drop it.
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(parts[0]+"."+parts[1]+".", claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !m.now().Before(claims.ExpiresAt.Add(m.config.Leeway))
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if m.config.KeyID == "" {
		return m.verifyKey()
	}
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	if kid == m.config.KeyID {
		return m.verifyKey()
	}
	key, ok := m.config.VerifyKeys[kid]
	if !ok {
		return nil, errors.New("unknown kid")
	}
	if m.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.SigningKey, nil
	}
	return parseEdPrivateKey(m.config.SigningKey)
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.SigningKey, nil
	}
	return parseEdPublicKey(m.config.VerifyKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}
