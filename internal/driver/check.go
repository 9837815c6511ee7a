package driver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Check inspects a successful response body. A failed check is reported on
// its own and never turns a 200 response into a failed request.
type Check interface {
	Name() string
	Check(body []byte) error
}

const (
	// CheckMatchHits requires every query in the response to have found a match.
	CheckMatchHits = "matchHits"

	// CheckSchema validates the response against a JSON schema.
	CheckSchema = "schema"
)

// ErrNotJSON is returned by checks when the body is not valid JSON.
var ErrNotJSON = errors.New("response is not valid JSON")

// CheckConfig selects one response check.
type CheckConfig struct {
	Type string `json:"type" yaml:"type"`

	// SchemaFile points at a JSON schema for the schema check. Empty uses
	// the built-in match result schema.
	SchemaFile string `json:"schemaFile,omitempty" yaml:"schemaFile,omitempty"`
}

// NewCheck builds a check from its configuration.
func NewCheck(cfg CheckConfig) (Check, error) {
	switch cfg.Type {
	case CheckMatchHits:
		return MatchHits{}, nil
	case CheckSchema:
		src := MatchResultSchema
		if cfg.SchemaFile != "" {
			data, err := os.ReadFile(cfg.SchemaFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read schema: %w", err)
			}
			src = string(data)
		}
		return NewSchemaCheck(src)
	default:
		return nil, fmt.Errorf("unknown check type: %q", cfg.Type)
	}
}

// MatchHits passes when every result entry reports found_match=true.
type MatchHits struct{}

func (MatchHits) Name() string { return CheckMatchHits }

func (MatchHits) Check(body []byte) error {
	if !gjson.ValidBytes(body) {
		return ErrNotJSON
	}

	results := gjson.ParseBytes(body)
	if !results.IsArray() {
		return fmt.Errorf("expected a JSON array of results, got %s", results.Type)
	}

	total := 0
	var misses []string
	results.ForEach(func(_, r gjson.Result) bool {
		total++
		if !r.Get("found_match").Bool() {
			misses = append(misses, r.Get("query").String())
		}
		return true
	})

	if total == 0 {
		return fmt.Errorf("no results in response")
	}
	if len(misses) > 0 {
		return fmt.Errorf("%d/%d queries without match: %s", len(misses), total, strings.Join(misses, " "))
	}
	return nil
}

// SchemaCheck validates bodies against a compiled JSON schema.
type SchemaCheck struct {
	schema *jsonschema.Schema
}

// NewSchemaCheck compiles src into a schema check.
func NewSchemaCheck(src string) (*SchemaCheck, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &SchemaCheck{schema: schema}, nil
}

func (c *SchemaCheck) Name() string { return CheckSchema }

func (c *SchemaCheck) Check(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ErrNotJSON
	}
	if err := c.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// MatchResultSchema describes the JSON array the match endpoint answers with.
const MatchResultSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["query", "query_type", "found_match"],
    "properties": {
      "query": {"type": "string"},
      "query_type": {"enum": ["inchi", "inchikey", "smiles"]},
      "found_match": {"type": "boolean"},
      "match_level": {"type": "string"},
      "error_message": {"type": "string"},
      "matches": {
        "type": ["array", "null"],
        "items": {
          "type": "object",
          "properties": {
            "inchikey": {"type": "string"},
            "first_block": {"type": "string"},
            "inchi": {"type": "string"},
            "smiles": {"type": "string"},
            "compound_name": {"type": "string"},
            "molecular_formula": {"type": "string"}
          }
        }
      }
    }
  }
}`
