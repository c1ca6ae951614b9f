package runtime

import "github.com/google/uuid"

// TokenSource yields invocation tokens for log correlation. Production uses
// random UUIDs; tests pin the token for byte-identical traces.
type TokenSource interface {
	Generate() string
}

// UUIDTokens is the default token source.
type UUIDTokens struct{}

// Generate returns a random UUID string.
func (UUIDTokens) Generate() string {
	return uuid.NewString()
}
