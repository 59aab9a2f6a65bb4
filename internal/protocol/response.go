package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Envelope keys added to every decoded response. They replace body keys of
// the same name.
const (
	KeyOpID               = "opId"
	KeyDeviceID           = "deviceId"
	KeyServiceUUID        = "serviceUUID"
	KeyCharacteristicUUID = "characteristicUUID"
	KeyTotalLen           = "totalLen"
	KeyPreview            = "preview"

	// KeyValue holds non-object responses.
	KeyValue = "value"
)

// PreviewLimit is the rune length of Response.Preview before truncation.
const PreviewLimit = 120

var envelopeKeys = map[string]struct{}{
	KeyOpID: {}, KeyDeviceID: {}, KeyServiceUUID: {}, KeyCharacteristicUUID: {}, KeyTotalLen: {}, KeyPreview: {},
}

// Response is a reassembled reply plus its envelope.
type Response struct {
	OpID               string
	DeviceID           string
	ServiceUUID        string
	CharacteristicUUID string
	TotalLen           int
	Preview            string

	// Body holds the top-level members of the reply in wire order. Non-object
	// replies are stored under KeyValue.
	Body *orderedmap.OrderedMap[string, json.RawMessage]
	Raw  []byte
}

// Get returns a raw body member.
func (r *Response) Get(key string) (json.RawMessage, bool) {
	if r.Body == nil {
		return nil, false
	}
	return r.Body.Get(key)
}

// Decode unmarshals the reply, without envelope, into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// MarshalJSON emits the body members in wire order followed by the envelope.
func (r *Response) MarshalJSON() ([]byte, error) {
	out := orderedmap.New[string, any]()
	if r.Body != nil {
		for pair := r.Body.Oldest(); pair != nil; pair = pair.Next() {
			if _, reserved := envelopeKeys[pair.Key]; reserved {
				continue
			}
			out.Set(pair.Key, pair.Value)
		}
	}
	out.Set(KeyOpID, r.OpID)
	out.Set(KeyDeviceID, r.DeviceID)
	out.Set(KeyServiceUUID, r.ServiceUUID)
	out.Set(KeyCharacteristicUUID, r.CharacteristicUUID)
	out.Set(KeyTotalLen, r.TotalLen)
	out.Set(KeyPreview, r.Preview)
	return json.Marshal(out)
}

// decodeBuffer attempts to turn the accumulated fragments into a reply body.
// It fails while the buffer is empty, blank, not valid UTF-8 (for example a
// code point split across fragments) or not yet a complete JSON value.
func decodeBuffer(buf []byte) (*orderedmap.OrderedMap[string, json.RawMessage], bool) {
	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) == 0 || !utf8.Valid(trimmed) || !json.Valid(trimmed) {
		return nil, false
	}

	body := orderedmap.New[string, json.RawMessage]()
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, body); err != nil {
			return nil, false
		}
		return body, true
	}

	value := make(json.RawMessage, len(trimmed))
	copy(value, trimmed)
	body.Set(KeyValue, value)
	return body, true
}

func preview(buf []byte) string {
	s := string(bytes.TrimSpace(buf))
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s…", string(runes[:PreviewLimit]))
}
