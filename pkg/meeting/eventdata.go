package meeting

import "encoding/json"

// eventDataToMap flattens a typed event payload into the key/value document
// the meeting_events.data column stores, mirroring how the teacher's event
// publisher marshals typed payloads before writing them to jsonb.
func eventDataToMap(data any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
