package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const inputSchemaURL = "sparkcloud://schema/webhook-input.json"

// inputSchema describes the accepted creation payload.
const inputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ownerID", "event", "url", "requestType"],
  "properties": {
    "ownerID": {"type": "string", "minLength": 1},
    "event": {"type": "string", "minLength": 1, "maxLength": 63},
    "deviceID": {"type": "string"},
    "productIdOrSlug": {"type": "string"},
    "url": {"type": "string", "pattern": "^[Hh][Tt][Tt][Pp][Ss]?://[^\\s]+$"},
    "requestType": {"enum": ["GET", "POST", "PUT", "DELETE"]},
    "form": {"type": "object"},
    "json": {"type": "object"},
    "query": {"type": "object"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "auth": {
      "type": "object",
      "required": ["username"],
      "properties": {
        "username": {"type": "string", "minLength": 1},
        "password": {"type": "string"}
      }
    },
    "mydevices": {"type": "boolean"},
    "noDefaults": {"type": "boolean"},
    "rejectUnauthorized": {"type": "boolean"},
    "responseTemplate": {"type": "string"},
    "responseTopic": {"type": "string", "maxLength": 255},
    "errorResponseTopic": {"type": "string", "maxLength": 255}
  },
  "not": {"required": ["form", "json"]}
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(inputSchema)))
		if err != nil {
			compileErr = fmt.Errorf("webhook: parse input schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(inputSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("webhook: add input schema: %w", err)
			return
		}

		compiledSchema, compileErr = c.Compile(inputSchemaURL)
	})

	return compiledSchema, compileErr
}

// validateInput checks in against the input schema. Input is round-tripped
// through JSON so the validator sees the wire shape.
func validateInput(in Input) error {
	sch, err := schema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return &ValidationError{Field: "webhook", Message: err.Error()}
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Field: "webhook", Message: err.Error()}
	}

	if err := sch.Validate(doc); err != nil {
		return &ValidationError{Field: "webhook", Message: err.Error()}
	}

	return nil
}
