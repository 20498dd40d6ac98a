package testutil

// FixedTokenGenerator returns the same run token every time, so golden
// journal output does not depend on UUIDs.
//
// Unlike engine.SequenceGenerator, which counts, every run shares one token.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a generator for token.
// An empty token defaults to "test-run".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-run"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token. Implements engine.TokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
