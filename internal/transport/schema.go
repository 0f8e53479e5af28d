package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const statusSchemaURL = "status.schema.json"

// statusSchemaJSON describes the body of GET /api/report/status/{id}.
// Status is left open so unknown values reach model.ParsePhase.
const statusSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["job_id", "status", "progress"],
  "properties": {
    "job_id": {"type": "string"},
    "status": {"type": "string", "minLength": 1},
    "progress": {"type": "number", "minimum": 0, "maximum": 1},
    "current_step": {"type": ["string", "null"]},
    "steps_completed": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    },
    "error": {"type": ["string", "null"]},
    "governance_report": {"type": ["object", "null"]},
    "seo_report": {"type": ["object", "null"]}
  }
}`

var statusSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(statusSchemaURL, strings.NewReader(statusSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(statusSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// validateStatus checks data against the status payload schema.
func validateStatus(data []byte) error {
	schema, err := statusSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
