package forward

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("forward: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("forward: CBOR decoder initialization failed: " + err.Error())
	}
}

// marshal encodes v with deterministic core encoding.
func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// unmarshal decodes CBOR data into v.
func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
