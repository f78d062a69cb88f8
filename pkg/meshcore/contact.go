package meshcore

import "encoding/binary"

// ContactFrameLen is the fixed on-wire size of a Contact frame
// (spec.md §6): pubkey(32) | type(1) | flags(1) | out_path_len(1) |
// out_path(63) | name(32) | last_advert_ts(4) | lat(4) | lon(4) |
// last_modified(4) == 146 bytes.
const ContactFrameLen = PublicKeyLen + 1 + 1 + 1 + MaxOutPathLen + 32 + 4 + 4 + 4 + 4

func init() {
	// Compile-time-ish guard: keep the documented 146-byte layout honest
	// if the field list above is ever edited.
	if ContactFrameLen != 146 {
		panic("meshcore: ContactFrameLen must be 146")
	}
}

// Contact is the decoded 146-byte Contact wire frame (spec.md §3, §6).
// Name occupies 32 bytes on the wire (31 usable + NUL terminator), per
// MaxNameBytes.
type Contact struct {
	PublicKey     [PublicKeyLen]byte
	Type          ContactType
	Flags         uint8
	OutPathLength int8 // -1 = flood, 0 = direct, 1..63 = explicit hop count
	OutPath       []byte
	Name          string
	LastAdvertTs  uint32
	Lat           float64
	Lon           float64
	LastModified  uint32
}

// EncodeContact serializes a Contact into its 146-byte wire form.
// out_path_length = -1 requires an empty OutPath (spec.md §3 invariant);
// 0 <= out_path_length <= 63 requires len(OutPath) == out_path_length.
func EncodeContact(c Contact) ([]byte, error) {
	if c.OutPathLength == FloodPathLength {
		if len(c.OutPath) != 0 {
			return nil, badField("out_path", errNonEmptyFloodPath)
		}
	} else if c.OutPathLength < 0 || int(c.OutPathLength) > MaxOutPathLen {
		return nil, badField("out_path_length", errPathLengthRange)
	} else if len(c.OutPath) != int(c.OutPathLength) {
		return nil, badField("out_path", errPathLengthMismatch)
	}

	buf := make([]byte, ContactFrameLen)
	off := 0
	copy(buf[off:off+PublicKeyLen], c.PublicKey[:])
	off += PublicKeyLen
	buf[off] = byte(c.Type)
	off++
	buf[off] = c.Flags
	off++
	buf[off] = byte(c.OutPathLength)
	off++
	copy(buf[off:off+len(c.OutPath)], c.OutPath)
	off += MaxOutPathLen
	if err := putFixedString(buf[off:off+32], c.Name, "name"); err != nil {
		return nil, err
	}
	off += 32
	binary.LittleEndian.PutUint32(buf[off:off+4], c.LastAdvertTs)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(encodeCoord(c.Lat)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(encodeCoord(c.Lon)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], c.LastModified)
	return buf, nil
}

// DecodeContact parses a 146-byte Contact wire frame. Trailing zero
// padding in out_path beyond out_path_length is tolerated (spec.md §8).
func DecodeContact(payload []byte) (Contact, error) {
	if len(payload) < ContactFrameLen {
		return Contact{}, ErrShortFrame
	}
	var c Contact
	off := 0
	copy(c.PublicKey[:], payload[off:off+PublicKeyLen])
	off += PublicKeyLen
	c.Type = ContactType(payload[off])
	off++
	c.Flags = payload[off]
	off++
	c.OutPathLength = int8(payload[off])
	off++
	pathLen := int(c.OutPathLength)
	if c.OutPathLength == FloodPathLength {
		pathLen = 0
	}
	c.OutPath = append([]byte(nil), payload[off:off+pathLen]...)
	off += MaxOutPathLen
	c.Name = getFixedString(payload[off : off+32])
	off += 32
	c.LastAdvertTs = binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	c.Lat = decodeCoord(int32(binary.LittleEndian.Uint32(payload[off : off+4])))
	off += 4
	c.Lon = decodeCoord(int32(binary.LittleEndian.Uint32(payload[off : off+4])))
	off += 4
	c.LastModified = binary.LittleEndian.Uint32(payload[off : off+4])
	return c, nil
}

var (
	errNonEmptyFloodPath  = errShortf("out_path_length = -1 requires an empty out_path")
	errPathLengthRange    = errShortf("out_path_length must be -1 or in [0,63]")
	errPathLengthMismatch = errShortf("len(out_path) must equal out_path_length")
)

type errString string

func (e errString) Error() string { return string(e) }

func errShortf(msg string) error { return errString(msg) }
