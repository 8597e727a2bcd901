package dsmsg

import (
	"encoding/binary"
	"fmt"
)

// Header identifies what a message is. Requests carry Err == ErrNone.
type Header struct {
	Category uint32
	Type     uint32
	Err      uint32
}

// Part is one typed field of a message body.
type Part struct {
	Type uint32
	Data []byte
}

// Message is the unit exchanged on a connection: one header followed by an
// ordered list of parts.
type Message struct {
	Header Header
	Parts  []Part
}

// NewRequest creates an empty request of the given category and type.
func NewRequest(category, typ uint32) *Message {
	return &Message{Header: Header{Category: category, Type: typ}}
}

// NewReply creates an empty success reply mirroring the request header.
func NewReply(req *Message) *Message {
	return &Message{Header: Header{Category: req.Header.Category, Type: req.Header.Type}}
}

// NewErrorReply creates a reply carrying code and a human readable reason.
// req may be nil when the request could not be decoded.
func NewErrorReply(req *Message, code ErrorCode, reason string) *Message {
	reply := &Message{Header: Header{Err: uint32(code)}}
	if req != nil {
		reply.Header.Category = req.Header.Category
		reply.Header.Type = req.Header.Type
	}
	if reason != "" {
		reply.AddErrString(reason)
	}
	return reply
}

// IsAdmin reports whether the message targets the administrative handler.
func (m *Message) IsAdmin() bool {
	return m.Header.Category == CategoryServerStatus
}

// ErrorCode returns the reply status of the message.
func (m *Message) ErrorCode() ErrorCode {
	return ErrorCode(m.Header.Err)
}

func (m *Message) AddInt(v int32) *Message {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	m.Parts = append(m.Parts, Part{Type: PartInt, Data: buf[:]})
	return m
}

func (m *Message) AddString(s string) *Message {
	m.Parts = append(m.Parts, Part{Type: PartString, Data: []byte(s)})
	return m
}

func (m *Message) AddErrString(s string) *Message {
	m.Parts = append(m.Parts, Part{Type: PartErrString, Data: []byte(s)})
	return m
}

func (m *Message) AddOpaque(b []byte) *Message {
	m.Parts = append(m.Parts, Part{Type: PartOpaque, Data: append([]byte(nil), b...)})
	return m
}

// Int returns the int part at index i.
func (m *Message) Int(i int) (int32, error) {
	p, err := m.part(i, PartInt)
	if err != nil {
		return 0, err
	}
	if len(p.Data) != 4 {
		return 0, fmt.Errorf("part %d: int of %d bytes", i, len(p.Data))
	}
	return int32(binary.BigEndian.Uint32(p.Data)), nil
}

// String returns the string part at index i.
func (m *Message) String(i int) (string, error) {
	p, err := m.part(i, PartString)
	if err != nil {
		return "", err
	}
	return string(p.Data), nil
}

// ErrString returns the first error-string part, or "" if there is none.
func (m *Message) ErrString() string {
	for _, p := range m.Parts {
		if p.Type == PartErrString {
			return string(p.Data)
		}
	}
	return ""
}

func (m *Message) part(i int, typ uint32) (Part, error) {
	if i < 0 || i >= len(m.Parts) {
		return Part{}, fmt.Errorf("part %d: out of range (%d parts)", i, len(m.Parts))
	}
	p := m.Parts[i]
	if p.Type != typ {
		return Part{}, fmt.Errorf("part %d: type %d, want %d", i, p.Type, typ)
	}
	return p, nil
}
