package protocol

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/driftsync/reducer-runtime/errors"
)

// Encoding is deterministic (RFC 8949 core deterministic profile) so that the
// same invocation produces byte-identical frames on every replica. Decoding
// uses default options, which ignore unrecognized map keys: unknown fields
// never abort decoding.
var (
	encMode = func() cbor.EncMode {
		em, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			panic("protocol: build CBOR encode mode: " + err.Error())
		}
		return em
	}()

	decMode = func() cbor.DecMode {
		dm, err := cbor.DecOptions{}.DecMode()
		if err != nil {
			panic("protocol: build CBOR decode mode: " + err.Error())
		}
		return dm
	}()
)

// Marshal encodes any protocol value deterministically.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Protocol("encode message", err)
	}
	return data, nil
}

// Unmarshal decodes into v, tolerating unknown fields.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return errors.Protocol("decode message", err)
	}
	return nil
}

// DecodeSuspendState decodes and validates the frame a guest entry returned.
func DecodeSuspendState(data []byte) (*SuspendState, error) {
	var st SuspendState
	if err := Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, errors.Protocol("suspend state", err)
	}
	return &st, nil
}

// EncodeSuspendState validates and encodes a guest frame.
func EncodeSuspendState(st *SuspendState) ([]byte, error) {
	if err := st.Validate(); err != nil {
		return nil, errors.Protocol("suspend state", err)
	}
	return Marshal(st)
}

// DecodeResponse decodes and validates a host response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, errors.Protocol("response", err)
	}
	return &resp, nil
}

// EncodeResponse validates and encodes a host response.
func EncodeResponse(resp *Response) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, errors.Protocol("response", err)
	}
	return Marshal(resp)
}
