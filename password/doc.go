// Package password hashes and verifies passwords with Argon2id or bcrypt.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes use the usual $2a$/$2b$ modular crypt form. A [Verifier]
// accepts both whatever its primary algorithm is, and [Verifier.NeedsRehash]
// flags hashes the caller should replace on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other evalauth package.
//   - Log plaintext passwords.
package password
