package credential

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// SecretBytes is the number of random bytes in a generated secret (128 bits).
const SecretBytes = 16

// secretEncoding renders secrets as lowercase base32 without padding.
// The alphabet is [a-z2-7], so a secret never contains ':' or '@' and is
// safe in the password part of a URL authority.
var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// maskedSecret replaces a secret wherever it is formatted or logged.
const maskedSecret = "***"

// Secret is an opaque credential token.
// String and LogValue are masked so a secret never reaches logs or error
// messages by accident; use Reveal to obtain the raw token.
type Secret string

// Reveal returns the raw secret token.
func (s Secret) Reveal() string {
	return string(s)
}

// String implements fmt.Stringer with a masked value.
func (s Secret) String() string {
	return maskedSecret
}

// GoString implements fmt.GoStringer with a masked value.
func (s Secret) GoString() string {
	return maskedSecret
}

// LogValue implements slog.LogValuer with a masked value.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(maskedSecret)
}

// Generator produces fresh, unpredictable secrets.
type Generator interface {
	Generate() (Secret, error)
}

// RandomGenerator generates secrets from a cryptographically secure source.
type RandomGenerator struct {
	// source supplies random bytes. It is crypto/rand.Reader unless a test
	// replaces it.
	source io.Reader
}

// NewRandomGenerator creates a generator reading from crypto/rand.
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{source: rand.Reader}
}

// NewRandomGeneratorFrom creates a generator reading from the given source.
// The source must be cryptographically secure outside of tests.
func NewRandomGeneratorFrom(source io.Reader) *RandomGenerator {
	return &RandomGenerator{source: source}
}

// Generate returns a new 128-bit secret.
// A failing or short read yields ErrEntropyExhausted.
func (g *RandomGenerator) Generate() (Secret, error) {
	buf := make([]byte, SecretBytes)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEntropyExhausted, err)
	}
	return Secret(strings.ToLower(secretEncoding.EncodeToString(buf))), nil
}
