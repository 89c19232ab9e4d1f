package frame

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

// eventSchemaJSON describes a data frame payload. Unknown fields are allowed.
const eventSchemaJSON = `{
	"type": "object",
	"properties": {
		"content":       {"type": ["string", "null"]},
		"context":       {"type": ["object", "null"]},
		"session_state": {"type": ["object", "string", "null"]},
		"error":         {"type": ["string", "null"]}
	}
}`

var eventSchema = mustCompileSchema(eventSchemaJSON)

func mustCompileSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("frame: compile event schema: %v", err))
	}
	return s
}

// DecodeEvent validates payload against the event schema and decodes it.
func DecodeEvent(payload []byte) (model.Event, error) {
	result, err := eventSchema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return model.Event{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return model.Event{}, fmt.Errorf("schema validation failed: %s", strings.Join(errs, "; "))
	}

	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
