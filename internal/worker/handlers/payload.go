package handlers

import "encoding/json"

// decodePayload converts a job's generic payload into the handler's typed
// payload.
func decodePayload(payload map[string]any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}
