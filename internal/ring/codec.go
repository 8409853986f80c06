package ring

import "encoding/json"

// JSONCodec is the default Codec: the ring imposes no wire format of its
// own, and JSON needs nothing beyond the user's struct tags to round-trip
// a Versioned record.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
