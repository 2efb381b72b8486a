package protocol

import (
	"encoding/gob"
	"io"
)

// Encoder writes messages to one half of a worker channel pair.
// Safe for use by a single goroutine only; callers serialize sends.
type Encoder struct {
	enc *gob.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: gob.NewEncoder(w)}
}

func (e *Encoder) Encode(msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return e.enc.Encode(msg)
}

// Decoder reads messages from one half of a worker channel pair.
type Decoder struct {
	dec *gob.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: gob.NewDecoder(r)}
}

// Decode blocks until a message is available, the stream is closed,
// or the stream is corrupt. On a closed stream, io.EOF is returned.
func (d *Decoder) Decode() (*Message, error) {
	var msg Message
	if err := d.dec.Decode(&msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
