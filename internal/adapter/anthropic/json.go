package anthropic

import "encoding/json"

// jsonObject decodes a tool_use block's raw JSON arguments into a map,
// tolerating an empty string (no arguments supplied).
func jsonObject(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
