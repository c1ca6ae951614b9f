package testutil

// FixedTokens yields the same invocation token every time.
//
// The runtime tags each endpoint invocation with a token for log
// correlation; production uses random UUIDs. Pinning the token keeps golden
// traces byte-identical across runs.
//
// FixedTokens is stateless and safe for concurrent use.
type FixedTokens struct {
	token string
}

// NewFixedTokens creates a fixed token source. An empty token falls back to
// "test-invocation".
func NewFixedTokens(token string) *FixedTokens {
	if token == "" {
		token = "test-invocation"
	}
	return &FixedTokens{token: token}
}

// Generate returns the fixed token. Implements runtime.TokenSource.
func (g *FixedTokens) Generate() string {
	return g.token
}
