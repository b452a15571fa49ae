package parser

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/PStewardYUL/receipt-ai/internal/llm"
)

//go:embed schema/*.json
var schemaFS embed.FS

func compileSchema(name string) (*jsonschema.Schema, error) {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// decode pulls the JSON object out of a model answer, checks it against
// schema and unmarshals it into out.
func decode(answer string, schema *jsonschema.Schema, out any) error {
	raw, err := llm.ExtractJSON(answer)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal answer: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("answer does not match schema: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return nil
}
