package handler

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kmoran/regionwars/pkg/conquest"
)

// clientSchema validates every inbound message before dispatch, so
// handlers only ever see well-formed envelopes.
const clientSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"enum": ["join", "ready", "commands", "leave"]},
		"game_id": {"type": "string", "maxLength": 64},
		"name": {"type": "string", "maxLength": 32},
		"token": {"type": "string", "maxLength": 1024},
		"commands": {
			"type": "array",
			"maxItems": 512,
			"items": {
				"type": "array",
				"minItems": 1,
				"maxItems": 2,
				"prefixItems": [
					{"type": "integer", "minimum": 0},
					{
						"type": "array",
						"maxItems": 32,
						"items": {"type": "integer", "minimum": 0}
					}
				]
			}
		}
	},
	"allOf": [
		{
			"if": {"properties": {"action": {"const": "join"}}},
			"then": {"required": ["game_id"]}
		},
		{
			"if": {"properties": {"action": {"const": "commands"}}},
			"then": {"required": ["commands"]}
		}
	]
}`

var compiledClientSchema = jsonschema.MustCompileString("client.json", clientSchema)

// clientMessage is the envelope for client-to-server messages. Commands
// come as [origin] or [origin, [targets...]] tuples.
type clientMessage struct {
	Action   string         `json:"action"`
	GameID   string         `json:"game_id"`
	Name     string         `json:"name"`
	Token    string         `json:"token"`
	Commands []commandTuple `json:"commands"`
}

type commandTuple struct {
	Origin  conquest.RegionID
	Targets []conquest.RegionID
}

func (c *commandTuple) UnmarshalJSON(b []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	if len(arr) < 1 || len(arr) > 2 {
		return fmt.Errorf("command tuple has %d elements", len(arr))
	}
	if err := json.Unmarshal(arr[0], &c.Origin); err != nil {
		return fmt.Errorf("command origin: %w", err)
	}
	if len(arr) == 2 {
		if err := json.Unmarshal(arr[1], &c.Targets); err != nil {
			return fmt.Errorf("command targets: %w", err)
		}
	}
	return nil
}

// parseClientMessage validates raw bytes against the schema and decodes
// the envelope.
func parseClientMessage(raw []byte) (*clientMessage, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := compiledClientSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *clientMessage) commandBatch() []conquest.Command {
	out := make([]conquest.Command, 0, len(c.Commands))
	for _, t := range c.Commands {
		out = append(out, conquest.Command{Origin: t.Origin, Targets: t.Targets})
	}
	return out
}
