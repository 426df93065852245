package core

import (
	"strings"

	"github.com/hashicorp/go-argmapper"
)

// CLIArgs is the raw, unparsed CLI argument vector a Task carries. It
// exists as its own named type (rather than a bare []string) so the
// Dynamic Invoker's type-based argument matching can distinguish it from
// any other []string a plugin function might declare.
type CLIArgs []string

// CommandArgsToMap is the one mapper spec.md section 4.E step 5 calls out
// by name: it translates the Task's CLI args into a key/value map a
// plugin function may declare instead of the raw vector. Flags are
// accepted as "--key=value" or bare "--key" (mapped to "true"); anything
// else is ignored rather than failing the whole conversion, since a
// malformed flag is the external CLI layer's concern, not the core's.
func CommandArgsToMap(args CLIArgs) map[string]string {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		trimmed := strings.TrimPrefix(arg, "--")
		if key, value, found := strings.Cut(trimmed, "="); found {
			out[key] = value
		} else if trimmed != "" {
			out[trimmed] = "true"
		}
	}
	return out
}

// defaultMappers seeds a Basis's mapper list when the caller supplies
// none, per spec.md section 4.E step 5. The original core seeds from a
// protobuf field-conversion library (protomappers.All) that has no
// counterpart here — wire serialization is explicitly out of scope — so
// this is the CLI-args mapper alone.
func defaultMappers() ([]*argmapper.Func, error) {
	fn, err := argmapper.NewFunc(CommandArgsToMap)
	if err != nil {
		return nil, err
	}
	return []*argmapper.Func{fn}, nil
}
