// Package frame implements the length-prefixed message framing used
// between the ingester and the processor: a 4-byte big-endian length
// followed by exactly that many bytes of JSON payload.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrame is the default upper bound on a single frame's payload size.
const MaxFrame = 1 << 20 // 1 MiB

// ErrorKind classifies why framing failed.
type ErrorKind int

const (
	ShortHeader ErrorKind = iota
	ShortBody
	LengthTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case ShortHeader:
		return "short_header"
	case ShortBody:
		return "short_body"
	case LengthTooLarge:
		return "length_too_large"
	default:
		return "unknown"
	}
}

// FrameError reports a framing failure local to one connection.
type FrameError struct {
	Kind ErrorKind
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("frame: %s", e.Kind)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Decoder pulls length-prefixed payloads off a byte stream.
type Decoder struct {
	r        io.Reader
	maxFrame uint32
	hdr      [4]byte
}

// NewDecoder wraps r with the given maximum frame size. A maxFrame of 0
// selects MaxFrame.
func NewDecoder(r io.Reader, maxFrame uint32) *Decoder {
	if maxFrame == 0 {
		maxFrame = MaxFrame
	}
	return &Decoder{r: r, maxFrame: maxFrame}
}

// Next reads one frame. It returns io.EOF only when the stream ends
// cleanly between frames (no bytes of a new frame have been read yet).
// Any other truncation is reported as a *FrameError.
func (d *Decoder) Next() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: ShortHeader, Err: err}
	}

	length := binary.BigEndian.Uint32(d.hdr[:])
	if length > d.maxFrame {
		return nil, &FrameError{Kind: LengthTooLarge, Err: fmt.Errorf("length %d exceeds max %d", length, d.maxFrame)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &FrameError{Kind: ShortBody, Err: err}
	}
	return payload, nil
}

// Encoder writes length-prefixed frames. Used for tests and the replay
// tooling; never part of the hot receive path.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Write emits one frame for payload. Header and payload go to the
// underlying writer in a single Write call, so the encoder never emits a
// length header on its own without the payload that follows it.
func (e *Encoder) Write(payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := e.w.Write(buf); err != nil {
		return err
	}
	return nil
}
