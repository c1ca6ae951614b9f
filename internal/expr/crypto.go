package expr

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/lattice-dev/lattice/internal/defs"
)

// cryptoHash hashes a clear-text value with bcrypt. Arguments: value, cost.
// Non-deterministic: the changeset resolver memoizes the result so one pass
// never hashes the same item twice.
func cryptoHash(fn defs.FunctionName, args []any) (any, error) {
	clear, err := argString(fn, args, 0)
	if err != nil {
		return nil, err
	}
	cost, err := argInt(fn, args, 1)
	if err != nil {
		return nil, err
	}
	if int(cost) < bcrypt.MinCost || int(cost) > bcrypt.MaxCost {
		return nil, fmt.Errorf("cryptoHash: cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	out, err := bcrypt.GenerateFromPassword([]byte(clear), int(cost))
	if err != nil {
		return nil, fmt.Errorf("cryptoHash: %w", err)
	}
	return string(out), nil
}

// cryptoCompare checks a clear-text value against a bcrypt hash. A mismatch
// or malformed hash yields false, never an error.
func cryptoCompare(fn defs.FunctionName, args []any) (any, error) {
	clear, err := argString(fn, args, 0)
	if err != nil {
		return nil, err
	}
	hashed, err := argString(fn, args, 1)
	if err != nil {
		return nil, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(clear)) == nil, nil
}

// cryptoToken generates a URL-safe random token of the requested byte size.
// Non-deterministic, memoized the same way as cryptoHash.
func cryptoToken(fn defs.FunctionName, args []any) (any, error) {
	size, err := argInt(fn, args, 0)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("cryptoToken: size must be positive, got %d", size)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("cryptoToken: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
