package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// TrackerRecord is the last reported state of one tracked entity.
// X/Y/Z are metres in the room frame; every other payload field is kept
// verbatim in Attrs and written back out unchanged.
type TrackerRecord struct {
	ID string
	X  float64
	Y  float64
	Z  float64

	Attrs map[string]json.RawMessage
}

var reservedKeys = map[string]bool{"id": true, "x": true, "y": true, "z": true}

func (r TrackerRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Attrs)+4)
	for k, v := range r.Attrs {
		if !reservedKeys[k] {
			out[k] = v
		}
	}
	out["id"] = r.ID
	out["x"] = r.X
	out["y"] = r.Y
	out["z"] = r.Z
	return json.Marshal(out)
}

func (r *TrackerRecord) UnmarshalJSON(b []byte) error {
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return errors.New("payload is not a json object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	var rec TrackerRecord
	for k, v := range fields {
		var err error
		switch k {
		case "id":
			// Only a string id is kept; Decode replaces it with the topic id.
			var id string
			if json.Unmarshal(v, &id) == nil {
				rec.ID = id
			}
		case "x":
			err = json.Unmarshal(v, &rec.X)
		case "y":
			err = json.Unmarshal(v, &rec.Y)
		case "z":
			err = json.Unmarshal(v, &rec.Z)
		default:
			if rec.Attrs == nil {
				rec.Attrs = make(map[string]json.RawMessage, len(fields))
			}
			rec.Attrs[k] = v
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", k)
		}
	}
	*r = rec
	return nil
}
