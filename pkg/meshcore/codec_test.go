package meshcore

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestSendTextMsgRoundTrip(t *testing.T) {
	prefix := [KeyPrefixLen]byte{1, 2, 3, 4, 5, 6}
	frame, err := EncodeSendTextMsg(TextTypePlain, 0, 1234, prefix, "hello mesh")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if frame[0] != CmdSendTextMsg {
		t.Fatalf("expected code 0x%02x, got 0x%02x", CmdSendTextMsg, frame[0])
	}
}

func TestSendTextMsgBoundary(t *testing.T) {
	prefix := [KeyPrefixLen]byte{}
	exact := strings.Repeat("a", MaxTextBytes)
	if _, err := EncodeSendTextMsg(TextTypePlain, 0, 0, prefix, exact); err != nil {
		t.Errorf("expected %d-byte text accepted, got %v", MaxTextBytes, err)
	}

	tooLong := strings.Repeat("a", MaxTextBytes+1)
	if _, err := EncodeSendTextMsg(TextTypePlain, 0, 0, prefix, tooLong); err == nil {
		t.Errorf("expected %d-byte text rejected", MaxTextBytes+1)
	}
}

func TestSentRoundTrip(t *testing.T) {
	payload := []byte{1, 0xE9, 0x03, 0x00, 0x00, 0x88, 0x13, 0x00, 0x00}
	got, err := DecodeSent(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !got.IsFlood || got.AckCode != 0x000003E9 || got.EstimatedTimeoutMs != 5000 {
		t.Errorf("unexpected decode: %+v", got)
	}
}

func TestSentShortFrame(t *testing.T) {
	if _, err := DecodeSent([]byte{1, 2, 3}); err != ErrShortFrame {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
}

func TestSendConfirmedRoundTrip(t *testing.T) {
	got, err := DecodeSendConfirmed([]byte{0xE9, 0x03, 0x00, 0x00, 0xFA, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.AckCode != 0x000003E9 || got.RttMs != 250 {
		t.Errorf("unexpected decode: %+v", got)
	}
}

func TestContactRoundTrip(t *testing.T) {
	c := Contact{
		Type:          ContactTypeChat,
		Flags:         0x01,
		OutPathLength: 2,
		OutPath:       []byte{0xAA, 0xBB},
		Name:          "Basecamp",
		LastAdvertTs:  1700000000,
		Lat:           51.5074,
		Lon:           -0.1278,
		LastModified:  1700000100,
	}
	for i := range c.PublicKey {
		c.PublicKey[i] = byte(i)
	}

	encoded, err := EncodeContact(c)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(encoded) != ContactFrameLen {
		t.Fatalf("expected %d bytes, got %d", ContactFrameLen, len(encoded))
	}

	decoded, err := DecodeContact(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Name != c.Name || decoded.OutPathLength != c.OutPathLength {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, c)
	}
	if diff := decoded.Lat - c.Lat; diff > 1e-5 || diff < -1e-5 {
		t.Errorf("lat mismatch: %v vs %v", decoded.Lat, c.Lat)
	}
}

func TestContactFloodPathMustBeEmpty(t *testing.T) {
	c := Contact{OutPathLength: FloodPathLength, OutPath: []byte{1}, Name: "x"}
	if _, err := EncodeContact(c); err == nil {
		t.Errorf("expected error for non-empty flood out_path")
	}

	c.OutPath = nil
	if _, err := EncodeContact(c); err != nil {
		t.Errorf("expected flood path with empty out_path to encode, got %v", err)
	}
}

func TestContactDecodeTruncatedPath(t *testing.T) {
	c := Contact{OutPathLength: FloodPathLength, Name: "x"}
	encoded, err := EncodeContact(c)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeContact(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.OutPath) != 0 {
		t.Errorf("expected empty out_path for flood route, got %d bytes", len(decoded.OutPath))
	}
}

func TestContactMsgV3RoundTrip(t *testing.T) {
	payload := []byte{
		0xF8, 0, 0, // snr=-8 (i8 value -8 -> -2dB), padding
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, // sender prefix
		0x00,                   // path len (direct)
		byte(TextTypePlain),    // text type
		0x10, 0x27, 0x00, 0x00, // ts = 10000
	}
	payload = append(payload, []byte("hi")...)

	got, err := DecodeContactMsgV3(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Text != "hi" || got.Timestamp != 10000 || got.PathLen != 0 {
		t.Errorf("unexpected decode: %+v", got)
	}
}

func TestChannelMsgV3RoundTrip(t *testing.T) {
	payload := []byte{
		0x00, 0, 0, // snr
		0x02,                // channel index
		0x01,                // path len
		byte(TextTypePlain), // text type
		0x00, 0x00, 0x00, 0x00,
	}
	payload = append(payload, []byte("bcast")...)

	got, err := DecodeChannelMsgV3(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ChannelIndex != 2 || got.Text != "bcast" {
		t.Errorf("unexpected decode: %+v", got)
	}
}

func TestSignedPlainAuthor(t *testing.T) {
	text := string([]byte{0xDE, 0xAD, 0xBE, 0xEF}) + "hello room"
	prefix, body, err := SignedPlainAuthor(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "hello room" {
		t.Errorf("expected body %q, got %q", "hello room", body)
	}
	want := [AuthorPrefixLen]byte{0xDE, 0xAD, 0xBE, 0xEF}
	if prefix != want {
		t.Errorf("expected prefix %v, got %v", want, prefix)
	}
}

func TestIsPush(t *testing.T) {
	cases := map[byte]bool{
		RespOK:              false,
		RespSent:            false,
		PushMessagesWaiting: true,
		PushSendConfirmed:   true,
		PushAdvert:          true,
		PushLoginResult:     true,
	}
	for code, want := range cases {
		if got := IsPush(code); got != want {
			t.Errorf("IsPush(0x%02x) = %v, want %v", code, got, want)
		}
	}
}

func TestLoginResultRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 1, 0x03}
	got, err := DecodeLoginResult(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !got.Success || got.ACL != 0x03 {
		t.Errorf("unexpected decode: %+v", got)
	}
}

func TestKeepAliveAckRoundTrip(t *testing.T) {
	got, err := DecodeKeepAliveAck([]byte{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.UnsyncedCount != 5 {
		t.Errorf("unexpected decode: %+v", got)
	}
}

func TestDecodeDeviceInfo(t *testing.T) {
	buf := make([]byte, 4+4+32+32+32)
	binary.LittleEndian.PutUint32(buf[0:4], 256)
	binary.LittleEndian.PutUint32(buf[4:8], 8)
	copy(buf[8:40], "v1.2.3")
	copy(buf[40:72], "2026-07-01")
	copy(buf[72:104], "Acme Radios")

	got, err := DecodeDeviceInfo(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.MaxContacts != 256 || got.MaxChannels != 8 {
		t.Errorf("unexpected counts: %+v", got)
	}
	if got.FirmwareVersion != "v1.2.3" || got.FirmwareBuild != "2026-07-01" || got.Manufacturer != "Acme Radios" {
		t.Errorf("unexpected strings: %+v", got)
	}
}

func TestDecodeDeviceInfoShortFrame(t *testing.T) {
	if _, err := DecodeDeviceInfo(make([]byte, 3)); err != ErrShortFrame {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestDecodeSelfInfo(t *testing.T) {
	buf := make([]byte, PublicKeyLen+32+4+4+4+4+1+1+1+4)
	off := 0
	for i := 0; i < PublicKeyLen; i++ {
		buf[off+i] = byte(i + 1)
	}
	off += PublicKeyLen
	copy(buf[off:off+32], "base station")
	off += 32
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(encodeCoord(40.7128)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(encodeCoord(-74.0060)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], 915000)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], 250000)
	off += 4
	buf[off] = 11
	off++
	buf[off] = 5
	off++
	buf[off] = byte(int8(22))
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], 0x01)

	got, err := DecodeSelfInfo(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Name != "base station" {
		t.Errorf("unexpected name: %q", got.Name)
	}
	if got.Frequency != 915 || got.Bandwidth != 250 {
		t.Errorf("unexpected radio params: %+v", got)
	}
	if got.SpreadingFactor != 11 || got.CodingRate != 5 || got.TxPowerDbm != 22 {
		t.Errorf("unexpected radio params: %+v", got)
	}
	if got.FeatureFlags != 1 {
		t.Errorf("unexpected feature flags: %d", got.FeatureFlags)
	}
}
