package dsmsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

var (
	// ErrMessageTooLarge is returned when a message exceeds the read limit.
	ErrMessageTooLarge = errors.New("dsmsg: message too large")

	// ErrMalformed is returned when a message body is not valid XDR.
	ErrMalformed = errors.New("dsmsg: malformed message")
)

// Encode serializes msg into an XDR body (without record marking).
func Encode(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, msg); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an XDR body produced by Encode. Trailing bytes are
// treated as malformed.
//
// No part count or part length can exceed the body it was read from, so the
// body length caps every slice the decoder allocates.
func Decode(body []byte) (*Message, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	msg := &Message{}
	r := bytes.NewReader(body)
	if _, err := xdr.UnmarshalLimited(r, msg, uint(len(body))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}
	return msg, nil
}

// WriteMessage writes msg as a single last-fragment record.
func WriteMessage(w io.Writer, msg *Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(body) > fragmentLenMask {
		return ErrMessageTooLarge
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body))|lastFragmentBit)
	copy(frame[4:], body)

	_, err = w.Write(frame)
	return err
}

// ReadMessage reads one record-marked message from r, reassembling
// fragments until the last-fragment bit is seen.
//
// maxSize bounds the reassembled body; a non-positive value selects
// DefaultMaxMessageSize. I/O errors (including io.EOF when the peer closed
// between messages) are returned unwrapped; oversized or undecodable bodies
// yield ErrMessageTooLarge or ErrMalformed.
func ReadMessage(r io.Reader, maxSize int) (*Message, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	var body []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if len(body) > 0 && err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		mark := binary.BigEndian.Uint32(hdr[:])
		length := int(mark & fragmentLenMask)
		if len(body)+length > maxSize {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrMessageTooLarge, len(body)+length, maxSize)
		}

		start := len(body)
		body = append(body, make([]byte, length)...)
		if _, err := io.ReadFull(r, body[start:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if mark&lastFragmentBit != 0 {
			break
		}
	}

	return Decode(body)
}
