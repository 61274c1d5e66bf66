// Package envelope annotates payloads handed to callers with their
// freshness state, so a consumer can always tell live data from cached
// or stale data.
//
// JSON documents carry the annotation in-band as a "_meta" member. Arrays
// cannot hold one, so they are wrapped into {"items": [...], "_meta":
// {...}} instead of being spread element by element. Non-JSON payloads
// get a trailing bracketed marker line.
package envelope

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/memctl/memctl-sub002/internal/memclient"
)

// WrapJSON attaches freshness metadata to a JSON document. Objects gain a
// "_meta" member; arrays are wrapped under "items" first. Anything that
// does not parse as an object or array falls back to text annotation.
//
// The validity check must come first: gjson tolerates truncated documents,
// and sjson would splice the metadata into them.
func WrapJSON(data []byte, freshness memclient.Freshness) []byte {
	if !gjson.ValidBytes(data) {
		return WrapText(data, freshness)
	}
	doc := gjson.ParseBytes(data)
	switch {
	case doc.IsObject():
		out, err := sjson.SetBytes(data, "_meta.freshness", string(freshness))
		if err != nil {
			return WrapText(data, freshness)
		}
		return out
	case doc.IsArray():
		wrapped, err := sjson.SetRawBytes([]byte(`{}`), "items", data)
		if err != nil {
			return WrapText(data, freshness)
		}
		out, err := sjson.SetBytes(wrapped, "_meta.freshness", string(freshness))
		if err != nil {
			return WrapText(data, freshness)
		}
		return out
	default:
		return WrapText(data, freshness)
	}
}

// WrapText appends a freshness marker line to a non-JSON payload. The
// input may alias a cached response body, so the result is a fresh slice.
func WrapText(data []byte, freshness memclient.Freshness) []byte {
	out := make([]byte, 0, len(data)+32)
	out = append(out, data...)
	return append(out, fmt.Sprintf("\n[freshness: %s]", freshness)...)
}

// Wrap dispatches on the payload's classification.
func Wrap(p memclient.Payload) []byte {
	if p.IsJSON {
		return WrapJSON(p.Data, p.Freshness)
	}
	return WrapText(p.Data, p.Freshness)
}
