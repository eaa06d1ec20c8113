package config

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema/fwto-config.schema.json
var configSchema []byte

// Schema returns the embedded JSON schema for config documents.
func Schema() []byte {
	return append([]byte(nil), configSchema...)
}

// ValidateDocument validates a yaml, json or toml config document against the
// embedded schema. Violations are reported wrapped in ErrInvalid.
func ValidateDocument(data []byte, format string) error {
	doc := map[string]interface{}{}
	switch strings.ToLower(format) {
	case "toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: failed to parse toml: %v", ErrInvalid, err)
		}
	default:
		// yaml.v3 also accepts json documents.
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, format, err)
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(configSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%w: configuration validation failed:\n%s", ErrInvalid, strings.Join(problems, "\n"))
	}

	return nil
}
