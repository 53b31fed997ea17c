package ingest

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed ingest.schema.json
var schemaJSON []byte

const schemaURL = "https://mangasync.local/schemas/ingest.schema.json"

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ingest schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add ingest schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile ingest schema: %w", err)
	}
	return sch, nil
}

// validatePayload checks raw JSON against the report schema before it is
// decoded.
func validatePayload(sch *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("body is not valid json")
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("body does not match report schema: %w", err)
	}
	return nil
}
