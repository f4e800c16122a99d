package postgres

import "encoding/json"

// marshalJSON is a thin wrapper used when writing a JSONB column; it
// never fails on the types this store passes it (maps/slices of
// strings), so the panic-on-error here is a programmer-error guard,
// not a reachable runtime path.
func marshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("postgres: unmarshalable jsonb value: " + err.Error())
	}
	return b
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
