package adminproto

import "github.com/fxamacker/cbor/v2"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CanonicalEncOptions()
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

func cborMarshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func cborUnmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// MarshalPayload encodes a tag's message struct for framing. Exported so
// a forwarder's per-tag handler can pre-serialize before checking
// sending_allowed.
func MarshalPayload(v any) ([]byte, error) { return cborMarshal(v) }

// UnmarshalPayload decodes bytes produced by MarshalPayload into v.
func UnmarshalPayload(data []byte, v any) error { return cborUnmarshal(data, v) }
