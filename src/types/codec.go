package types

import (
	"github.com/ugorji/go/codec"
)

// msgpackHandle produces the canonical encoding every hash and signature is
// computed over. Map keys are sorted so equal values always encode equally.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.Canonical = true
	h.WriteExt = true
	h.RawToString = false
	return h
}

// MsgpackHandle returns the handle used for canonical encoding. It is shared
// by the transport so that wire payloads and hashed payloads agree.
func MsgpackHandle() *codec.MsgpackHandle {
	return msgpackHandle
}

// Encode returns the canonical msgpack encoding of v.
func Encode(v interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// MustEncode is Encode for values whose encoding cannot fail.
func MustEncode(v interface{}) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode decodes canonical msgpack data into v.
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}
