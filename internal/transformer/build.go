package transformer

import (
	"fmt"

	"dataload/internal/config"
	"dataload/internal/transformer/builtin"
)

// Kinds lists the transform kinds Build understands.
var Kinds = []string{"normalize", "rename", "require"}

// Build turns the configured transform list into a Chain.
//
// Options per kind:
//
//	normalize: columns ([]string, optional)
//	rename:    columns (object, old name -> new name)
//	require:   fields ([]string)
func Build(specs []config.Transform) (Chain, error) {
	chain := make(Chain, 0, len(specs))
	for i, t := range specs {
		switch t.Kind {
		case "normalize":
			chain = append(chain, &builtin.Normalize{Columns: t.Options.StringSlice("columns")})
		case "rename":
			m := t.Options.StringMap("columns")
			if len(m) == 0 {
				return nil, fmt.Errorf("transform[%d]: rename needs a non-empty columns map", i)
			}
			chain = append(chain, &builtin.Rename{Map: m})
		case "require":
			chain = append(chain, &builtin.Require{Fields: t.Options.StringSlice("fields")})
		default:
			return nil, fmt.Errorf("transform[%d]: unknown kind %q", i, t.Kind)
		}
	}
	return chain, nil
}
