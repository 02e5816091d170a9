// Package codec holds the wire encoding used for envelopes and snapshots.
package codec

import (
	"bytes"
	"io"

	json "github.com/goccy/go-json"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// JSON implements both Marshaler and Unmarshaler with goccy/go-json.
//
// Numbers are decoded as float64 unless UseNumber is set, matching encoding/json.
type JSON struct {
	UseNumber bool
}

var (
	_ Marshaler   = JSON{}
	_ Unmarshaler = JSON{}
)

func New() JSON {
	return JSON{}
}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (c JSON) Unmarshal(data []byte, dst any) error {
	if !c.UseNumber {
		return json.Unmarshal(data, dst)
	}
	return c.NewDecoder(bytes.NewReader(data)).Decode(dst)
}

func (c JSON) NewDecoder(r io.Reader) Decoder {
	dec := json.NewDecoder(r)
	if c.UseNumber {
		dec.UseNumber()
	}
	return dec
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return json.Valid(data)
}
