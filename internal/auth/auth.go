// Package auth implements password hashing and verification for user
// accounts: Argon2id for every hash this package produces, plus read-only
// verification of the legacy salted-SHA-256/Base64 format so accounts
// created before this engine adopted Argon2id keep working.
//
// Grounded on tinySQL's own minimal footprint here (the teacher has no
// user/password concept at all — auth sits entirely in the surrounding
// CLI/server, out of the core engine's scope) combined with spec §9's
// explicit dual-format requirement. Implements executor.PasswordHasher
// so internal/executor never has to import this package directly.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/qindb/qindb/internal/dberr"
)

// argon2Params are the tuning knobs baked into every hash this package
// produces. They are not configurable per call: the spec asks for one
// scheme, not a parameter zoo, and a fixed cost means every stored hash
// can be verified without having to also persist its parameters.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

const argon2Prefix = "$argon2id$"

// legacySaltLen matches the salted-SHA-256 format this engine's
// predecessor used: salt || sha256(salt || password), both the same
// length, Base64-joined with a ':'.
const legacySaltLen = 16

// Hasher is the Argon2id-backed implementation of executor.PasswordHasher.
type Hasher struct{}

// New returns the engine's password hasher.
func New() *Hasher { return &Hasher{} }

// Hash produces a new Argon2id hash, encoded as
// $argon2id$v=<version>$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>,
// the same self-describing layout the reference Argon2 implementations
// use so a future parameter change doesn't break old hashes.
func (*Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", dberr.Wrap(dberr.IOError, err, "generate password salt")
	}
	sum := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, argon2Memory, argon2Time, argon2Threads,
		enc.EncodeToString(salt), enc.EncodeToString(sum)), nil
}

// Verify checks password against hash, accepting either an Argon2id hash
// produced by Hash, or a legacy salted-SHA-256/Base64 hash. The legacy
// format carries no prefix of its own: a hash without the Argon2id prefix
// verifies only if it parses exactly as the legacy layout (Base64 16-byte
// salt, ':', Base64 digest), so a corrupted or foreign hash format never
// verifies.
func (*Hasher) Verify(hash, password string) bool {
	if strings.HasPrefix(hash, argon2Prefix) {
		return verifyArgon2id(hash, password)
	}
	return verifyLegacy(hash, password)
}

func verifyArgon2id(hash, password string) bool {
	parts := strings.Split(strings.TrimPrefix(hash, argon2Prefix), "$")
	if len(parts) != 4 {
		return false
	}
	var version int
	var memory uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[0], "v=%d", &version); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &memory, &t, &p); err != nil {
		return false
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[3])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, t, memory, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// legacy format: base64(salt) + ":" + base64(sha256(salt||password)).
func verifyLegacy(hash, password string) bool {
	idx := strings.IndexByte(hash, ':')
	if idx < 0 {
		return false
	}
	enc := base64.StdEncoding
	salt, err := enc.DecodeString(hash[:idx])
	if err != nil || len(salt) != legacySaltLen {
		return false
	}
	want, err := enc.DecodeString(hash[idx+1:])
	if err != nil {
		return false
	}
	sum := sha256.Sum256(append(append([]byte{}, salt...), password...))
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}

// HashLegacy produces a salted-SHA-256/Base64 hash in the old format,
// exposed only so tests can exercise verifyLegacy without hand-encoding
// the format; CREATE/ALTER USER always call Hash, never this.
func HashLegacy(password string) (string, error) {
	salt := make([]byte, legacySaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", dberr.Wrap(dberr.IOError, err, "generate legacy password salt")
	}
	sum := sha256.Sum256(append(append([]byte{}, salt...), password...))
	enc := base64.StdEncoding
	return enc.EncodeToString(salt) + ":" + enc.EncodeToString(sum[:]), nil
}
