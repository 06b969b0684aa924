package password

import "errors"

var (
	// ErrEmptyPassword is returned by Hash for a zero-length password.
	ErrEmptyPassword = errors.New("password: empty password")
	// ErrPasswordTooLong is returned by the bcrypt hasher above 72 bytes.
	ErrPasswordTooLong = errors.New("password: password exceeds algorithm input limit")
	// ErrMalformedHash means the encoded hash was recognised but could not be decoded.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnknownFormat means no configured algorithm recognises the encoded hash.
	ErrUnknownFormat = errors.New("password: unknown hash format")
)
