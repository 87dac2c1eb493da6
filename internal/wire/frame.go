package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a misbehaving peer cannot make the
// reader allocate without limit.
const MaxFrameSize = 1 << 20

// ReadMessage reads one length-prefixed frame from r.
func ReadMessage(r io.Reader) (*Message, error) {
	// Read message length (4 bytes, big endian)
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", length, MaxFrameSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read message data: %w", err)
	}

	var msg Message
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// WriteMessage writes m as one length-prefixed frame. The header and payload
// go out in a single Write call.
func WriteMessage(w io.Writer, m *Message) error {
	payload := Marshal(m)
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(payload), MaxFrameSize)
	}

	frame := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
