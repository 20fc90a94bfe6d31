package evidence

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

// Metadata schemas per evidence type. Unknown properties are allowed;
// known ones must be well formed.
var metadataSchemas = map[contracts.EvidenceType]string{
	contracts.EvidenceMaterialAcknowledgment: `{
		"type": "object",
		"properties": {
			"startedAt":  {"type": "string", "format": "date-time"},
			"materialId": {"type": "string", "minLength": 1}
		}
	}`,
	contracts.EvidenceQuizAttempt: quizSchema,
	contracts.EvidenceQuizPass:    quizSchema,
	contracts.EvidenceAttestation: `{
		"type": "object",
		"properties": {
			"startedAt":  {"type": "string", "format": "date-time"},
			"statement":  {"type": "string"},
			"attestedBy": {"type": "string"}
		}
	}`,
	contracts.EvidenceCampaignExport: `{
		"type": "object",
		"properties": {
			"artifactHash": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
			"recordCount":  {"type": "integer", "minimum": 0}
		}
	}`,
}

const quizSchema = `{
	"type": "object",
	"properties": {
		"startedAt": {"type": "string", "format": "date-time"},
		"score":     {"type": "number", "minimum": 0, "maximum": 100},
		"attempt":   {"type": "integer", "minimum": 1},
		"passed":    {"type": "boolean"}
	}
}`

// Validator checks evidence metadata against the compiled type schemas.
type Validator struct {
	schemas map[contracts.EvidenceType]*jsonschema.Schema
}

// NewValidator compiles the built-in schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[contracts.EvidenceType]*jsonschema.Schema, len(metadataSchemas))}
	for t, src := range metadataSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		url := "urn:adoption:evidence:" + string(t)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", t, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", t, err)
		}
		v.schemas[t] = compiled
	}
	return v, nil
}

// Normalize round-trips metadata through JSON so it holds only JSON types.
// The stored and hashed form is always the normalized one.
func Normalize(metadata map[string]any) (map[string]any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata is not JSON encodable: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("metadata is not a JSON object: %w", err)
	}
	return out, nil
}

// Validate checks normalized metadata for type t.
func (v *Validator) Validate(t contracts.EvidenceType, metadata map[string]any) error {
	schema, ok := v.schemas[t]
	if !ok {
		return fmt.Errorf("no metadata schema for %q", t)
	}
	var doc any = map[string]any{}
	if metadata != nil {
		doc = metadata
	}
	return schema.Validate(doc)
}
