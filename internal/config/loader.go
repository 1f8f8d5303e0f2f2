package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var configSchema = jsonschema.MustCompileString("synload-config.schema.json", schemaJSON)

// Load reads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func Load(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data, path)
}

// Parse checks data against the config schema and decodes it.
//
// The format is determined by the file extension in path, or defaults to
// YAML if the path is empty or has an unknown extension. Unknown fields
// are rejected.
func Parse(data []byte, path string) (*TestConfig, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	doc, err := toJSONDocument(data, isJSON)
	if err != nil {
		return nil, err
	}

	if err := checkSchema(doc); err != nil {
		return nil, err
	}

	var config TestConfig
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %w", ErrConfiguration, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %w", ErrConfiguration, err)
		}
	}

	return &config, nil
}

// toJSONDocument decodes data into the generic form the schema validator
// works on. YAML documents are round-tripped through JSON so numbers and
// maps have JSON types.
func toJSONDocument(data []byte, isJSON bool) (interface{}, error) {
	var doc interface{}

	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %w", ErrConfiguration, err)
		}
		return doc, nil
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML config: %w", ErrConfiguration, err)
	}
	if raw == nil {
		return map[string]interface{}{}, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: config must use string keys: %w", ErrConfiguration, err)
	}
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return doc, nil
}

// checkSchema validates doc against the embedded schema and converts
// schema violations into ValidationErrors.
func checkSchema(doc interface{}) error {
	err := configSchema.Validate(doc)
	if err == nil {
		return nil
	}

	errs := &ValidationErrors{}
	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) {
		collectSchemaErrors(validationErr, errs)
	}
	if !errs.HasErrors() {
		errs.Add("", err.Error())
	}
	return errs
}

// collectSchemaErrors flattens the leaves of a schema error tree.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(pointerToField(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// pointerToField turns a JSON pointer such as /stages/1/target into
// stages[1].target.
func pointerToField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}

	var sb strings.Builder
	for i, part := range strings.Split(pointer, "/") {
		if isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			sb.WriteString(".")
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
