package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2Prefix          = "$argon2id$"
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 hashes passwords with Argon2id and encodes them in PHC form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
type Argon2 struct {
	config Config
}

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates the cost parameters against the package minimums.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("argon2 memory must be >= %d KiB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return nil, errors.New("argon2 time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("argon2 parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a key from the raw password bytes (no normalization) with a
// fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	var b strings.Builder
	b.WriteString(argon2Prefix)
	b.WriteString("v=")
	b.WriteString(strconv.Itoa(argon2.Version))
	fmt.Fprintf(&b, "$m=%d,t=%d,p=%d$", a.config.Memory, a.config.Time, a.config.Parallelism)
	b.WriteString(base64.RawStdEncoding.EncodeToString(salt))
	b.WriteByte('$')
	b.WriteString(base64.RawStdEncoding.EncodeToString(key))
	return b.String(), nil
}

// Verify recomputes the key with the parameters embedded in encoded and
// compares in constant time.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	p, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters than
// the current configuration.
func (a *Argon2) NeedsRehash(encoded string) bool {
	p, err := decodeArgon2(encoded)
	if err != nil {
		return true
	}
	return p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.parallelism < a.config.Parallelism ||
		uint32(len(p.key)) != a.config.KeyLength
}

func decodeArgon2(encoded string) (*argon2Params, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return nil, ErrUnknownFormat
	}

	version, ok := strings.CutPrefix(fields[2], "v=")
	if !ok {
		return nil, fmt.Errorf("%w: missing argon2 version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version %q", ErrMalformedHash, version)
	}

	p := &argon2Params{}
	seen := 0
	for _, kv := range strings.Split(fields[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, kv)
		}
		switch name {
		case "m":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(n) < minMemoryKB {
				return nil, fmt.Errorf("%w: invalid memory parameter", ErrMalformedHash)
			}
			p.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(n) < minTimeCost {
				return nil, fmt.Errorf("%w: invalid time parameter", ErrMalformedHash)
			}
			p.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil || uint8(n) < minParallelism {
				return nil, fmt.Errorf("%w: invalid parallelism parameter", ErrMalformedHash)
			}
			p.parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unsupported parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}

	var err error
	if p.salt, err = decodeB64(fields[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: invalid salt", ErrMalformedHash)
	}
	if p.key, err = decodeB64(fields[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("%w: invalid key", ErrMalformedHash)
	}
	return p, nil
}

// decodeB64 accepts both unpadded PHC encoding and the padded variant written
// by older tooling.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
