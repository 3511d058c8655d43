package alert

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema/rules.schema.json
var rulesSchema []byte

const rulesSchemaURL = "rules.schema.json"

// RuleError is one problem found in a rule file
type RuleError struct {
	File    string
	Path    string
	Message string
}

func (e RuleError) String() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// RuleFileError collects every RuleError for a file
type RuleFileError struct {
	Errors []RuleError
}

func (e *RuleFileError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, re := range e.Errors {
		msgs[i] = re.String()
	}
	return "invalid rule file: " + strings.Join(msgs, "; ")
}

// RuleLoader validates rule files against the embedded schema
type RuleLoader struct {
	schema *jsonschema.Schema
}

// NewRuleLoader compiles the embedded rule schema
func NewRuleLoader() (*RuleLoader, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rulesSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(rulesSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add rule schema: %w", err)
	}
	schema, err := compiler.Compile(rulesSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule schema: %w", err)
	}
	return &RuleLoader{schema: schema}, nil
}

// LoadFile reads and validates a YAML rule file
func (l *RuleLoader) LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return l.Parse(path, data)
}

// Parse validates data against the schema, decodes it and compiles each rule.
// file is only used in error messages.
func (l *RuleLoader) Parse(file string, data []byte) ([]Rule, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &RuleFileError{Errors: []RuleError{{File: file, Message: fmt.Sprintf("failed to parse YAML: %v", err)}}}
	}

	// Round-trip through JSON so the validator sees json.Number values
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, &RuleFileError{Errors: []RuleError{{File: file, Message: fmt.Sprintf("failed to convert to JSON: %v", err)}}}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, &RuleFileError{Errors: []RuleError{{File: file, Message: err.Error()}}}
	}

	if err := l.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			return nil, &RuleFileError{Errors: extractSchemaErrors(file, validationErr)}
		}
		return nil, &RuleFileError{Errors: []RuleError{{File: file, Message: err.Error()}}}
	}

	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, &RuleFileError{Errors: []RuleError{{File: file, Message: fmt.Sprintf("failed to decode rules: %v", err)}}}
	}

	var errs []RuleError
	seen := make(map[string]bool)
	for i, r := range set.Rules {
		path := fmt.Sprintf("rules.%d", i)
		if seen[r.Name] {
			errs = append(errs, RuleError{File: file, Path: path, Message: fmt.Sprintf("duplicate rule name %q", r.Name)})
		}
		seen[r.Name] = true
		if _, err := compileRule(r); err != nil {
			errs = append(errs, RuleError{File: file, Path: path, Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return nil, &RuleFileError{Errors: errs}
	}

	return set.Rules, nil
}

func extractSchemaErrors(file string, err *jsonschema.ValidationError) []RuleError {
	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	errs := []RuleError{{File: file, Path: path, Message: err.Error()}}
	for _, cause := range err.Causes {
		errs = append(errs, extractSchemaErrors(file, cause)...)
	}
	return errs
}
