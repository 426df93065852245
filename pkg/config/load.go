package config

import "context"

// Load evaluates the CUE configuration rooted at sources and returns the
// resulting Config. An empty source list evaluates to an empty, valid
// Config rather than an error: Basis construction treats a genuine parse
// failure as the only case needing its non-fatal recovery path.
func Load(ctx context.Context, sources []string) (*Config, error) {
	if len(sources) == 0 {
		return &Config{}, nil
	}
	parser := NewCUEParser()
	return parser.Evaluate(ctx, sources)
}
