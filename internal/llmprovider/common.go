package llmprovider

import "encoding/json"

// decodeToolInput parses an accumulated input_json_delta buffer into the
// map[string]any shape chatpipeline.ToolCall.Input expects. An empty buffer
// (a tool call with no arguments) decodes to an empty map rather than erroring.
func decodeToolInput(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
