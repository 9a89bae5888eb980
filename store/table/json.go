package table

import (
	"encoding/json"
	"fmt"
)

// docArg prepares a payload/metadata document for binding. With
// JSONPassthrough the map is handed to the session as-is and the driver
// encodes it (e.g. pgx to jsonb); otherwise it is serialized to text here.
// A nil document binds NULL either way.
func (s *Store) docArg(doc map[string]any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	if s.cfg.JSONPassthrough {
		return doc, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// decodeDoc coerces a scanned payload/metadata column back into a
// document. Sessions surface JSON columns as text, bytes, or — for
// document-typed columns with passthrough drivers — already-decoded maps.
func decodeDoc(v any) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return val, nil
	case []byte:
		if len(val) == 0 {
			return nil, nil
		}
		var doc map[string]any
		if err := json.Unmarshal(val, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	case string:
		if val == "" {
			return nil, nil
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(val), &doc); err != nil {
			return nil, err
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("unsupported document column type %T", v)
	}
}
