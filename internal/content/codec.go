package content

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Codec deterministically encodes/decodes the generic Looker object map that
// backs Item.ContentData. Determinism matters because spec.md invariant 1
// requires that writing the same logical object twice produces byte-
// identical storage — map key ordering in the wire encoding must therefore
// be canonical, not Go's randomized map iteration order.
type Codec struct {
	handle codec.MsgpackHandle
}

// NewCodec returns a Codec configured for canonical (sorted-map-key)
// encoding, matching spec.md's "msgpack-equivalent" requirement.
func NewCodec() *Codec {
	c := &Codec{}
	c.handle.Canonical = true
	c.handle.WriteExt = true
	return c
}

// Encode serializes a generic Looker object (typically map[string]any,
// decoded from the Looker SDK's own JSON response) into the deterministic
// binary form stored as Item.ContentData.
func (c *Codec) Encode(obj any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &c.handle)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes previously-encoded content_data into a generic map,
// the shape the pack/unpack engine and restoration orchestrator both
// operate on.
func (c *Codec) Decode(data []byte) (map[string]any, error) {
	var out map[string]any
	dec := codec.NewDecoderBytes(data, &c.handle)
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
