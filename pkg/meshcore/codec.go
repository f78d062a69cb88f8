package meshcore

import (
	"encoding/binary"
	"fmt"
)

// --- primitive helpers -------------------------------------------------

func putFixedString(dst []byte, s string, field string) error {
	b := []byte(s)
	if len(b) > len(dst) {
		return badField(field, fmt.Errorf("%d bytes exceeds cap %d", len(b), len(dst)))
	}
	copy(dst, b)
	for i := len(b); i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func getFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

// encodeCoord converts a float64 degree value to the fixed-point i32
// representation used on the wire (degrees x 1e6).
func encodeCoord(deg float64) int32 {
	return int32(deg * 1e6)
}

// decodeCoord reverses encodeCoord.
func decodeCoord(v int32) float64 {
	return float64(v) / 1e6
}

// decodeSNR converts the wire i8 (dB x 4) to a dB float.
func decodeSNR(raw int8) float64 {
	return float64(raw) / 4.0
}

// encodeSNR converts a dB float to the wire i8 (dB x 4), saturating to
// the representable range.
func encodeSNR(db float64) int8 {
	scaled := db * 4
	if scaled > 127 {
		scaled = 127
	}
	if scaled < -128 {
		scaled = -128
	}
	return int8(scaled)
}

// --- SEND_TEXT_MSG / SEND_CHAN_MSG --------------------------------------

// EncodeSendTextMsg builds a SEND_TEXT_MSG command frame (spec.md §4.5,
// §6): code, text_type, attempt, timestamp, a 6-byte recipient key
// prefix, then the UTF-8 text body (capped at MaxTextBytes).
func EncodeSendTextMsg(textType TextType, attempt uint8, timestamp uint32, recipientPrefix [KeyPrefixLen]byte, text string) ([]byte, error) {
	textBytes := []byte(text)
	if len(textBytes) > MaxTextBytes {
		return nil, badField("text", fmt.Errorf("%d bytes exceeds cap %d", len(textBytes), MaxTextBytes))
	}
	buf := make([]byte, 1+1+1+4+KeyPrefixLen+len(textBytes))
	buf[0] = CmdSendTextMsg
	buf[1] = byte(textType)
	buf[2] = attempt
	binary.LittleEndian.PutUint32(buf[3:7], timestamp)
	copy(buf[7:7+KeyPrefixLen], recipientPrefix[:])
	copy(buf[7+KeyPrefixLen:], textBytes)
	return buf, nil
}

// EncodeSendChanMsg builds a SEND_CHAN_MSG command frame: code, text_type,
// attempt, timestamp, channel index, then text.
func EncodeSendChanMsg(textType TextType, attempt uint8, timestamp uint32, channelIndex uint8, text string) ([]byte, error) {
	textBytes := []byte(text)
	if len(textBytes) > MaxTextBytes {
		return nil, badField("text", fmt.Errorf("%d bytes exceeds cap %d", len(textBytes), MaxTextBytes))
	}
	buf := make([]byte, 1+1+1+4+1+len(textBytes))
	buf[0] = CmdSendChanMsg
	buf[1] = byte(textType)
	buf[2] = attempt
	binary.LittleEndian.PutUint32(buf[3:7], timestamp)
	buf[7] = channelIndex
	copy(buf[8:], textBytes)
	return buf, nil
}

// --- SENT response --------------------------------------------------

// SentResponse is the decoded SENT{is_flood, ack_code, estimated_timeout_ms}
// response to a SEND_TEXT_MSG / SEND_CHAN_MSG (spec.md §4.5, §6).
type SentResponse struct {
	IsFlood           bool
	AckCode           uint32
	EstimatedTimeoutMs uint32
}

// DecodeSent decodes a SENT response payload (excluding the leading code
// byte).
func DecodeSent(payload []byte) (SentResponse, error) {
	if len(payload) < 1+4+4 {
		return SentResponse{}, ErrShortFrame
	}
	return SentResponse{
		IsFlood:            payload[0] != 0,
		AckCode:            binary.LittleEndian.Uint32(payload[1:5]),
		EstimatedTimeoutMs: binary.LittleEndian.Uint32(payload[5:9]),
	}, nil
}

// --- SEND_CONFIRMED push ------------------------------------------------

// SendConfirmed is the decoded SEND_CONFIRMED push (spec.md §4.5, §6).
type SendConfirmed struct {
	AckCode uint32
	RttMs   uint32
}

// DecodeSendConfirmed decodes a SEND_CONFIRMED push payload (excluding the
// leading code byte).
func DecodeSendConfirmed(payload []byte) (SendConfirmed, error) {
	if len(payload) < 8 {
		return SendConfirmed{}, ErrShortFrame
	}
	return SendConfirmed{
		AckCode: binary.LittleEndian.Uint32(payload[0:4]),
		RttMs:   binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}

// --- ADVERT / PATH_UPDATED / NEW_ADVERT pushes --------------------------

// Advert is the decoded ADVERT push: a key prefix advertising at a
// timestamp (spec.md §6).
type Advert struct {
	PubkeyPrefix [KeyPrefixLen]byte
	Timestamp    uint32
}

// DecodeAdvert decodes an ADVERT push payload.
func DecodeAdvert(payload []byte) (Advert, error) {
	if len(payload) < KeyPrefixLen+4 {
		return Advert{}, ErrShortFrame
	}
	var a Advert
	copy(a.PubkeyPrefix[:], payload[:KeyPrefixLen])
	a.Timestamp = binary.LittleEndian.Uint32(payload[KeyPrefixLen : KeyPrefixLen+4])
	return a, nil
}

// PathUpdated is the decoded PATH_UPDATED push.
type PathUpdated struct {
	PubkeyPrefix [KeyPrefixLen]byte
	NewPathLen   int8
}

// DecodePathUpdated decodes a PATH_UPDATED push payload.
func DecodePathUpdated(payload []byte) (PathUpdated, error) {
	if len(payload) < KeyPrefixLen+1 {
		return PathUpdated{}, ErrShortFrame
	}
	var p PathUpdated
	copy(p.PubkeyPrefix[:], payload[:KeyPrefixLen])
	p.NewPathLen = int8(payload[KeyPrefixLen])
	return p, nil
}

// --- LOGIN_RESULT push ---------------------------------------------------

// LoginResult is the decoded LOGIN_RESULT push (spec.md §4.7).
type LoginResult struct {
	PubkeyPrefix [KeyPrefixLen]byte
	Success      bool
	ACL          uint8 // only meaningful when Success is true
}

// DecodeLoginResult decodes a LOGIN_RESULT push payload.
func DecodeLoginResult(payload []byte) (LoginResult, error) {
	if len(payload) < KeyPrefixLen+1 {
		return LoginResult{}, ErrShortFrame
	}
	var r LoginResult
	copy(r.PubkeyPrefix[:], payload[:KeyPrefixLen])
	r.Success = payload[KeyPrefixLen] != 0
	if r.Success && len(payload) > KeyPrefixLen+1 {
		r.ACL = payload[KeyPrefixLen+1]
	}
	return r, nil
}

// --- BINARY_REQ / BINARY_RESPONSE ---------------------------------------

// EncodeBinaryReq builds a BINARY_REQ command addressed to recipient's
// full public key, carrying the given subtype (spec.md §4.7, §6).
func EncodeBinaryReq(recipient [PublicKeyLen]byte, subtype byte) []byte {
	buf := make([]byte, 1+PublicKeyLen+1)
	buf[0] = CmdBinaryReq
	copy(buf[1:1+PublicKeyLen], recipient[:])
	buf[1+PublicKeyLen] = subtype
	return buf
}

// KeepAliveAck is the decoded payload of the BINARY_RESPONSE push the
// radio sends in answer to a KEEP_ALIVE BINARY_REQ (spec.md §4.7):
// [ack_hash:4][unsynced_count:1].
type KeepAliveAck struct {
	AckHash        uint32
	UnsyncedCount  uint8
}

// DecodeKeepAliveAck decodes a KEEP_ALIVE BINARY_RESPONSE payload.
func DecodeKeepAliveAck(payload []byte) (KeepAliveAck, error) {
	if len(payload) < 5 {
		return KeepAliveAck{}, ErrShortFrame
	}
	return KeepAliveAck{
		AckHash:       binary.LittleEndian.Uint32(payload[0:4]),
		UnsyncedCount: payload[4],
	}, nil
}

// --- SEND_LOGIN / CMD_LOGOUT --------------------------------------------

// EncodeSendLogin builds a SEND_LOGIN command frame: full public key
// followed by the password string (not length-prefixed; it runs to the
// end of the frame).
func EncodeSendLogin(publicKey [PublicKeyLen]byte, password string) []byte {
	pw := []byte(password)
	buf := make([]byte, 1+PublicKeyLen+len(pw))
	buf[0] = CmdSendLogin
	copy(buf[1:1+PublicKeyLen], publicKey[:])
	copy(buf[1+PublicKeyLen:], pw)
	return buf
}

// EncodeLogout builds a CMD_LOGOUT command frame addressed to a session's
// full public key.
func EncodeLogout(publicKey [PublicKeyLen]byte) []byte {
	buf := make([]byte, 1+PublicKeyLen)
	buf[0] = CmdLogout
	copy(buf[1:], publicKey[:])
	return buf
}

// --- simple fixed commands ----------------------------------------------

// EncodeAppStart builds the APP_START command frame.
func EncodeAppStart() []byte { return []byte{CmdAppStart} }

// EncodeDeviceQuery builds the DEVICE_QUERY command frame.
func EncodeDeviceQuery() []byte { return []byte{CmdDeviceQuery} }

// EncodeSyncNextMessage builds the SYNC_NEXT_MESSAGE command frame used
// to drain the radio's inbound queue one frame at a time.
func EncodeSyncNextMessage() []byte { return []byte{CmdSyncNextMessage} }

// EncodeResetPath builds a RESET_PATH command frame, forcing the radio's
// router back to flood mode for the given contact key.
func EncodeResetPath(publicKey [PublicKeyLen]byte) []byte {
	buf := make([]byte, 1+PublicKeyLen)
	buf[0] = CmdResetPath
	copy(buf[1:], publicKey[:])
	return buf
}

// EncodeSendSelfAdvert builds a SEND_SELF_ADVERT command frame.
func EncodeSendSelfAdvert(flood bool) []byte {
	f := byte(0)
	if flood {
		f = 1
	}
	return []byte{CmdSendSelfAdvert, f}
}

// --- CONTACT_MSG_V3 / CHANNEL_MSG_V3 ------------------------------------

// ContactMsgV3 is a decoded direct-message frame drained from the radio's
// inbound queue (spec.md §4.6).
type ContactMsgV3 struct {
	SNR          float64
	SenderPrefix [KeyPrefixLen]byte
	PathLen      int8
	TextType     TextType
	Timestamp    uint32
	Text         string
}

// DecodeContactMsgV3 decodes a CONTACT_MSG_V3 payload:
// [snr:i8][_:2][sender_prefix:6][path_len][text_type][ts:u32][text].
func DecodeContactMsgV3(payload []byte) (ContactMsgV3, error) {
	const fixedLen = 1 + 2 + KeyPrefixLen + 1 + 1 + 4
	if len(payload) < fixedLen {
		return ContactMsgV3{}, ErrShortFrame
	}
	var m ContactMsgV3
	m.SNR = decodeSNR(int8(payload[0]))
	copy(m.SenderPrefix[:], payload[3:3+KeyPrefixLen])
	off := 3 + KeyPrefixLen
	m.PathLen = int8(payload[off])
	m.TextType = TextType(payload[off+1])
	m.Timestamp = binary.LittleEndian.Uint32(payload[off+2 : off+6])
	m.Text = string(payload[off+6:])
	return m, nil
}

// ChannelMsgV3 is a decoded channel-broadcast frame drained from the
// radio's inbound queue (spec.md §4.6).
type ChannelMsgV3 struct {
	SNR            float64
	ChannelIndex   uint8
	PathLen        int8
	TextType       TextType
	Timestamp      uint32
	Text           string
}

// DecodeChannelMsgV3 decodes a CHANNEL_MSG_V3 payload:
// [snr:i8][_:2][chan_idx][path_len][text_type][ts:u32][text].
func DecodeChannelMsgV3(payload []byte) (ChannelMsgV3, error) {
	const fixedLen = 1 + 2 + 1 + 1 + 1 + 4
	if len(payload) < fixedLen {
		return ChannelMsgV3{}, ErrShortFrame
	}
	var m ChannelMsgV3
	m.SNR = decodeSNR(int8(payload[0]))
	m.ChannelIndex = payload[3]
	m.PathLen = int8(payload[4])
	m.TextType = TextType(payload[5])
	m.Timestamp = binary.LittleEndian.Uint32(payload[6:10])
	m.Text = string(payload[10:])
	return m, nil
}

// SignedPlainAuthor extracts the embedded 4-byte original-author prefix
// from a signed_plain room message body (spec.md §4.6), returning the
// remaining text and the prefix.
func SignedPlainAuthor(text string) (authorPrefix [AuthorPrefixLen]byte, body string, err error) {
	raw := []byte(text)
	if len(raw) < AuthorPrefixLen {
		return authorPrefix, "", ErrShortFrame
	}
	copy(authorPrefix[:], raw[:AuthorPrefixLen])
	return authorPrefix, string(raw[AuthorPrefixLen:]), nil
}

// --- DEVICE_INFO / SELF_INFO ---------------------------------------------

// DeviceInfo is the decoded DEVICE_INFO response, issued once per
// connection during the app-start handshake (spec.md §4.1, §6). The
// wire layout is not itemized in spec.md §6 (elided with "..."); this
// mirrors the Contact frame's length-prefixed-count-then-fixed-strings
// convention.
type DeviceInfo struct {
	MaxContacts     uint32
	MaxChannels     uint32
	FirmwareVersion string
	FirmwareBuild   string
	Manufacturer    string
}

// DecodeDeviceInfo decodes a DEVICE_INFO response payload:
// [max_contacts:u32][max_channels:u32][firmware_version:32][firmware_build:32][manufacturer:32].
func DecodeDeviceInfo(payload []byte) (DeviceInfo, error) {
	const fixedLen = 4 + 4 + 32 + 32 + 32
	if len(payload) < fixedLen {
		return DeviceInfo{}, ErrShortFrame
	}
	var d DeviceInfo
	off := 0
	d.MaxContacts = binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	d.MaxChannels = binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	d.FirmwareVersion = getFixedString(payload[off : off+32])
	off += 32
	d.FirmwareBuild = getFixedString(payload[off : off+32])
	off += 32
	d.Manufacturer = getFixedString(payload[off : off+32])
	return d, nil
}

// SelfInfo is the decoded SELF_INFO response: this device's own node
// identity and radio parameters (spec.md §3, §6).
type SelfInfo struct {
	PublicKey       [PublicKeyLen]byte
	Name            string
	Lat             float64
	Lon             float64
	Frequency       float64
	Bandwidth       float64
	SpreadingFactor uint8
	CodingRate      uint8
	TxPowerDbm      int8
	FeatureFlags    uint32
}

// DecodeSelfInfo decodes a SELF_INFO response payload:
// [pubkey:32][name:32][lat:4][lon:4][freq:4][bw:4][sf:1][cr:1][tx_power:1][feature_flags:4].
// Frequency and bandwidth are carried as MHz*1000 fixed-point, matching
// the coordinate scaling convention used elsewhere in this codec.
func DecodeSelfInfo(payload []byte) (SelfInfo, error) {
	const fixedLen = PublicKeyLen + 32 + 4 + 4 + 4 + 4 + 1 + 1 + 1 + 4
	if len(payload) < fixedLen {
		return SelfInfo{}, ErrShortFrame
	}
	var s SelfInfo
	off := 0
	copy(s.PublicKey[:], payload[off:off+PublicKeyLen])
	off += PublicKeyLen
	s.Name = getFixedString(payload[off : off+32])
	off += 32
	s.Lat = decodeCoord(int32(binary.LittleEndian.Uint32(payload[off : off+4])))
	off += 4
	s.Lon = decodeCoord(int32(binary.LittleEndian.Uint32(payload[off : off+4])))
	off += 4
	s.Frequency = float64(binary.LittleEndian.Uint32(payload[off:off+4])) / 1000
	off += 4
	s.Bandwidth = float64(binary.LittleEndian.Uint32(payload[off:off+4])) / 1000
	off += 4
	s.SpreadingFactor = payload[off]
	off++
	s.CodingRate = payload[off]
	off++
	s.TxPowerDbm = int8(payload[off])
	off++
	s.FeatureFlags = binary.LittleEndian.Uint32(payload[off : off+4])
	return s, nil
}

// --- error code ----------------------------------------------------------

// DecodeError decodes an ERROR response payload down to its single code
// byte.
func DecodeError(payload []byte) (byte, error) {
	if len(payload) < 1 {
		return 0, ErrShortFrame
	}
	return payload[0], nil
}
