package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"boxcraft.dev/schemas"
)

const schemaBase = "https://boxcraft.dev/schemas/"

// Validator checks inbound client messages against the embedded JSON schemas.
type Validator struct {
	hello *jsonschema.Schema
	act   *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range []string{"hello.schema.json", "act.schema.json"} {
		b, err := schemas.FS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	hello, err := c.Compile(schemaBase + "hello.schema.json")
	if err != nil {
		return nil, err
	}
	act, err := c.Compile(schemaBase + "act.schema.json")
	if err != nil {
		return nil, err
	}
	return &Validator{hello: hello, act: act}, nil
}

// Validate checks raw against the schema for its message type.
// Types without a schema pass.
func (v *Validator) Validate(msgType string, raw []byte) error {
	if v == nil {
		return nil
	}
	var s *jsonschema.Schema
	switch msgType {
	case TypeHello:
		s = v.hello
	case TypeAct:
		s = v.act
	default:
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
