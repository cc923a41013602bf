package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/yaml"
)

// ValidateWithCue checks YAML config data against the #Harness definition
// of a CUE schema. name is used in error positions.
func ValidateWithCue(name string, data, schema []byte) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileBytes(schema, cue.Filename("harness.cue"))
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Harness"))
	if !def.Exists() {
		return fmt.Errorf("schema has no #Harness definition")
	}

	file, err := yaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	configVal := ctx.BuildFile(file)
	if err := configVal.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	final := def.Unify(configVal)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, cueerrors.Details(err, nil))
	}
	return nil
}
