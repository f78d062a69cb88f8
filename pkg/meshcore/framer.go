package meshcore

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
)

// MaxFrameSize is the largest logical frame the codec will assemble.
// Larger declared lengths are treated as stream corruption.
const MaxFrameSize = 4096

// lengthHeaderSize is the size of the length prefix used by LengthFramer.
const lengthHeaderSize = 2

// ErrFrameTooLarge indicates a declared frame length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("meshcore: frame too large")

// LengthFramer reconstructs logical, code-prefixed frames out of a
// byte stream that has no inherent message boundaries (a serial port, or
// concatenated BLE notification fragments). Each frame on the wire is a
// 2-byte little-endian length prefix followed by that many bytes of frame
// payload (code byte included). This is a transport-level framing choice,
// not part of the radio's own frame layout (spec.md §4.1: "frames are
// logically atomic" at the Link layer; chunking is transparent to it).
//
// Adapted from the magic+length stream framer pattern used for
// Meshtastic's serial protocol, dropping the 2-byte magic (the
// connections this codec serves each already know their own frame
// boundaries without a resync marker) while keeping the partial-read
// accumulation and resync-on-garbage behavior.
type LengthFramer struct {
	reader     io.Reader
	writer     io.Writer
	readBuffer []byte
	readPos    int
}

// NewLengthFramer creates a framer over the given reader/writer pair.
func NewLengthFramer(r io.Reader, w io.Writer) *LengthFramer {
	return &LengthFramer{
		reader:     r,
		writer:     w,
		readBuffer: make([]byte, MaxFrameSize+lengthHeaderSize),
	}
}

// ReadFrame reads one length-prefixed frame from the stream. Partial
// reads are preserved across calls so that a transport with I/O timeouts
// (e.g. a serial port) can call ReadFrame repeatedly without losing
// progress.
func (f *LengthFramer) ReadFrame() ([]byte, error) {
	for f.readPos < lengthHeaderSize {
		n, err := f.reader.Read(f.readBuffer[f.readPos:])
		if n > 0 {
			f.readPos += n
		}
		if err != nil {
			if isTemporaryError(err) && f.readPos > 0 {
				continue
			}
			return nil, err
		}
	}

	length := int(binary.LittleEndian.Uint16(f.readBuffer[0:2]))
	if length > MaxFrameSize {
		f.readPos = 0
		return nil, ErrFrameTooLarge
	}

	total := lengthHeaderSize + length
	for f.readPos < total {
		n, err := f.reader.Read(f.readBuffer[f.readPos:])
		if n > 0 {
			f.readPos += n
		}
		if err != nil {
			if isTemporaryError(err) && f.readPos < total {
				continue
			}
			return nil, err
		}
	}

	frame := make([]byte, length)
	copy(frame, f.readBuffer[lengthHeaderSize:total])

	remaining := f.readPos - total
	if remaining > 0 {
		copy(f.readBuffer, f.readBuffer[total:f.readPos])
	}
	f.readPos = remaining

	return frame, nil
}

// WriteFrame writes one length-prefixed frame to the stream as a single
// atomic write.
func (f *LengthFramer) WriteFrame(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, lengthHeaderSize+len(frame))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(frame)))
	copy(buf[lengthHeaderSize:], frame)
	_, err := f.writer.Write(buf)
	return err
}

func isTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
