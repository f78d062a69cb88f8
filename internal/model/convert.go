package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// ContactFromWire builds a domain Contact from a decoded wire frame,
// preserving any existing ID/DeviceID/Nickname/Blocked/Favorite bookkeeping
// that the wire frame itself carries no opinion about.
func ContactFromWire(w meshcore.Contact, existing *Contact) Contact {
	c := Contact{
		PublicKey:     w.PublicKey,
		Type:          ContactType(w.Type),
		Flags:         w.Flags,
		OutPathLength: w.OutPathLength,
		OutPath:       append([]byte(nil), w.OutPath...),
		Name:          w.Name,
		LastAdvertTs:  w.LastAdvertTs,
		Lat:           w.Lat,
		Lon:           w.Lon,
		LastModified:  w.LastModified,
	}
	if existing != nil {
		c.ID = existing.ID
		c.DeviceID = existing.DeviceID
		c.Nickname = existing.Nickname
		c.Blocked = existing.Blocked
		c.Favorite = existing.Favorite
	} else {
		c.ID = uuid.New()
	}
	return c
}

// ToWire converts a domain Contact back into the wire representation used
// by ADD_UPDATE_CONTACT requests.
func (c Contact) ToWire() meshcore.Contact {
	return meshcore.Contact{
		PublicKey:     c.PublicKey,
		Type:          meshcore.ContactType(c.Type),
		Flags:         c.Flags,
		OutPathLength: c.OutPathLength,
		OutPath:       append([]byte(nil), c.OutPath...),
		Name:          c.Name,
		LastAdvertTs:  c.LastAdvertTs,
		Lat:           c.Lat,
		Lon:           c.Lon,
		LastModified:  c.LastModified,
	}
}

// MessageFromContactMsgV3 builds an inbound domain Message from a decoded
// CONTACT_MSG_V3 push payload (spec.md §4.6).
func MessageFromContactMsgV3(deviceID uuid.UUID, contactID uuid.UUID, m meshcore.ContactMsgV3, receivedAt time.Time) Message {
	return Message{
		ID:              uuid.New(),
		DeviceID:        deviceID,
		ContactID:       contactID,
		Text:            m.Text,
		Timestamp:       m.Timestamp,
		Direction:       DirectionIn,
		Status:          StatusDelivered,
		TextType:        TextType(m.TextType),
		PathLength:      m.PathLen,
		SNR:             m.SNR,
		SenderKeyPrefix: m.SenderPrefix,
		ReceivedAt:      receivedAt,
	}
}

// MessageFromChannelMsgV3 builds an inbound domain Message from a decoded
// CHANNEL_MSG_V3 push payload, addressed by channel index rather than a
// contact (spec.md §4.6).
func MessageFromChannelMsgV3(deviceID uuid.UUID, m meshcore.ChannelMsgV3, receivedAt time.Time) Message {
	idx := m.ChannelIndex
	return Message{
		ID:           uuid.New(),
		DeviceID:     deviceID,
		ChannelIndex: &idx,
		Text:         m.Text,
		Timestamp:    m.Timestamp,
		Direction:    DirectionIn,
		Status:       StatusDelivered,
		TextType:     TextType(m.TextType),
		PathLength:   m.PathLen,
		SNR:          m.SNR,
		ReceivedAt:   receivedAt,
	}
}

// NewOutboundMessage builds a pending outbound Message destined for a
// direct contact.
func NewOutboundMessage(deviceID, contactID uuid.UUID, text string, textType TextType, timestamp uint32) Message {
	return Message{
		ID:         uuid.New(),
		DeviceID:   deviceID,
		ContactID:  contactID,
		Text:       text,
		Timestamp:  timestamp,
		Direction:  DirectionOut,
		Status:     StatusPending,
		TextType:   textType,
		IsFromSelf: true,
		ReceivedAt: time.Now(),
	}
}

// NewOutboundChannelMessage builds a pending outbound Message destined for
// a broadcast channel.
func NewOutboundChannelMessage(deviceID uuid.UUID, channelIndex uint8, text string, textType TextType, timestamp uint32) Message {
	idx := channelIndex
	return Message{
		ID:           uuid.New(),
		DeviceID:     deviceID,
		ChannelIndex: &idx,
		Text:         text,
		Timestamp:    timestamp,
		Direction:    DirectionOut,
		Status:       StatusPending,
		TextType:     textType,
		IsFromSelf:   true,
		ReceivedAt:   time.Now(),
	}
}

// DeviceInfoFromWire converts a decoded DEVICE_INFO response payload into
// the domain type. The wire layer for DEVICE_INFO is a fixed-field struct
// decoded inline by the caller (supervisor); this helper exists so that
// conversion logic for new fields has one home.
func DeviceInfoFromWire(firmwareVersion, firmwareBuild, manufacturer string, maxContacts, maxChannels uint32) DeviceInfo {
	return DeviceInfo{
		FirmwareVersion: firmwareVersion,
		FirmwareBuild:   firmwareBuild,
		Manufacturer:    manufacturer,
		MaxContacts:     maxContacts,
		MaxChannels:     maxChannels,
	}
}

// SessionFromAdvert creates or refreshes a RemoteNodeSession's identity
// fields from an ADVERT push (spec.md §4.7).
func SessionFromAdvert(existing *RemoteNodeSession, publicKey [meshcore.PublicKeyLen]byte, role SessionRole) RemoteNodeSession {
	if existing != nil {
		s := *existing
		s.PublicKey = publicKey
		return s
	}
	return RemoteNodeSession{
		ID:        uuid.New(),
		PublicKey: publicKey,
		Role:      role,
	}
}
