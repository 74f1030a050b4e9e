package plan

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// Go Plan struct using invopop/jsonschema. The same schema backs the
// semantic validation phase and the `roboplan schema` command.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Plan{})
	s.ID = "https://github.com/calegria/roboplan/schemas/plan-v1.json"
	s.Title = "Robot Plan v1"
	s.Description = "Schema for mcp.plan.v1 plan documents executed by the roboplan engine"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
