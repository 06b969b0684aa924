package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	revokeStatusNotFound int64 = 0
	revokeStatusRevoked  int64 = 1
	revokeStatusAlready  int64 = 2
	revokeStatusExpired  int64 = 3
)

const saveScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "ident", ARGV[1], "iat", ARGV[2], "exp", ARGV[3])
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
return 1
`

var saveLua = redis.NewScript(saveScript)

const revokeScript = `
local exp = redis.call("HGET", KEYS[1], "exp")
if not exp then
  return 0
end
if redis.call("HEXISTS", KEYS[1], "rev") == 1 then
  return 2
end
if tonumber(exp) <= tonumber(ARGV[1]) then
  return 3
end
redis.call("HSET", KEYS[1], "rev", ARGV[1])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// RedisStore keeps each refresh record in a Redis hash that expires with the
// token. The key is "<prefix>:<tokenID>".
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store under prefix. A nil now uses time.Now.
func NewRedisStore(rdb redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "art"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: rdb, prefix: prefix, now: now}
}

func (s *RedisStore) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

// Save stores rec. Records are written once; a second Save for the same token
// ID returns ErrDuplicate.
//
//	Performance: 1 EVALSHA (EXISTS + HSET + PEXPIREAT).
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if rec.TokenID == "" {
		return errors.New("refresh: empty token id")
	}
	res, err := saveLua.Run(ctx, s.redis, []string{s.key(rec.TokenID)},
		rec.IdentityID,
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

// Get loads the record for tokenID.
//
//	Performance: 1 HGETALL.
func (s *RedisStore) Get(ctx context.Context, tokenID string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeFields(tokenID, fields)
}

// Revoke marks the record revoked in one script so concurrent callers see
// exactly one true.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Revoke(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	status, err := revokeLua.Run(ctx, s.redis, []string{s.key(tokenID)}, at.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch status {
	case revokeStatusRevoked:
		return true, nil
	case revokeStatusNotFound, revokeStatusAlready, revokeStatusExpired:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unexpected revoke status %d", ErrUnavailable, status)
	}
}

func decodeFields(tokenID string, fields map[string]string) (Record, error) {
	ident, err := strconv.ParseInt(fields["ident"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt identity field for %s", ErrUnavailable, tokenID)
	}
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt iat field for %s", ErrUnavailable, tokenID)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt exp field for %s", ErrUnavailable, tokenID)
	}

	rec := Record{
		TokenID:    tokenID,
		IdentityID: ident,
		IssuedAt:   time.UnixMilli(iat),
		ExpiresAt:  time.UnixMilli(exp),
	}
	if raw, ok := fields["rev"]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: corrupt rev field for %s", ErrUnavailable, tokenID)
		}
		at := time.UnixMilli(ms)
		rec.RevokedAt = &at
	}
	return rec, nil
}
