// Package model defines the domain types shared across the companion
// client: contacts, messages, pending acknowledgements, remote-node
// sessions, and device descriptors (spec.md §3).
package model

import (
	"time"

	"github.com/google/uuid"
)

// ContactType identifies what kind of mesh endpoint a Contact represents.
type ContactType int

const (
	ContactTypeChat ContactType = iota
	ContactTypeRepeater
	ContactTypeRoom
)

func (t ContactType) String() string {
	switch t {
	case ContactTypeChat:
		return "chat"
	case ContactTypeRepeater:
		return "repeater"
	case ContactTypeRoom:
		return "room"
	default:
		return "unknown"
	}
}

// Contact is a mesh endpoint known to this device (spec.md §3).
type Contact struct {
	ID              uuid.UUID
	DeviceID        uuid.UUID
	PublicKey       [32]byte
	Type            ContactType
	Flags           uint8
	OutPathLength   int8
	OutPath         []byte
	Name            string
	Nickname        string
	Blocked         bool
	Favorite        bool
	LastAdvertTs    uint32
	Lat             float64
	Lon             float64
	LastModified    uint32
	UnreadCount     uint32
	LastMessageDate uint32
}

// KeyPrefix returns the 6-byte compact wire identifier for this contact's
// public key (spec.md §3, Glossary).
func (c Contact) KeyPrefix() [6]byte {
	var p [6]byte
	copy(p[:], c.PublicKey[:6])
	return p
}

// IsFlood reports whether this contact's current route is flood-routed.
func (c Contact) IsFlood() bool {
	return c.OutPathLength < 0
}

// MessageDirection is the direction of a Message relative to this device.
type MessageDirection int

const (
	DirectionOut MessageDirection = iota
	DirectionIn
)

// MessageStatus is the lifecycle status of an outbound Message
// (spec.md §3 Lifecycles).
type MessageStatus int

const (
	StatusPending MessageStatus = iota
	StatusSent
	StatusDelivered
	StatusFailed
)

func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TextType mirrors pkg/meshcore.TextType at the domain layer so callers
// of this package don't need to import the codec package directly.
type TextType uint8

const (
	TextTypePlain TextType = iota
	TextTypeCLIData
	TextTypeSignedPlain
)

// Message is a single mesh text message, inbound or outbound
// (spec.md §3).
type Message struct {
	ID               uuid.UUID
	DeviceID         uuid.UUID
	ContactID        uuid.UUID // zero value when ChannelIndex is used instead
	ChannelIndex     *uint8
	Text             string
	Timestamp        uint32
	Direction        MessageDirection
	Status           MessageStatus
	TextType         TextType
	AckCode          *uint32
	AttemptCount     uint8
	PathLength       int8
	SNR              float64
	SenderKeyPrefix  [6]byte
	ReplyToID        *uuid.UUID
	RoundTripMs      *uint32
	HeardRepeats     uint32
	IsFromSelf       bool
	ReceivedAt       time.Time
}

// PendingAck is the transient, in-memory bookkeeping record for an
// outbound message awaiting delivery confirmation (spec.md §3).
type PendingAck struct {
	MessageID     uuid.UUID
	AckCode       uint32
	SentAt        time.Time
	Timeout       time.Duration
	HeardRepeats  uint32
	IsDelivered   bool
	RetryManaged  bool
	DeliveredAt   time.Time
}

// SessionRole is the kind of remote-node session (spec.md §3, Glossary).
type SessionRole int

const (
	SessionRoleRoom SessionRole = iota
	SessionRoleRepeater
)

// PermissionLevel is the access level granted to this device by a
// remote-node session.
type PermissionLevel int

const (
	PermissionGuest PermissionLevel = iota
	PermissionMember
	PermissionAdmin
)

// PermissionFromACL derives a PermissionLevel from the radio's raw ACL
// byte (spec.md §4.7). The low two bits carry the level; 0=guest,
// 1=member, 2=admin.
func PermissionFromACL(acl uint8) PermissionLevel {
	switch acl & 0x03 {
	case 2:
		return PermissionAdmin
	case 1:
		return PermissionMember
	default:
		return PermissionGuest
	}
}

// RemoteNodeSession is a persistent session with a mesh room server or
// repeater admin endpoint (spec.md §3).
type RemoteNodeSession struct {
	ID              uuid.UUID
	DeviceID        uuid.UUID
	PublicKey       [32]byte
	Role            SessionRole
	IsConnected     bool
	PermissionLevel PermissionLevel
	Name            string
	Lat             float64
	Lon             float64
}

// KeyPrefix returns the 6-byte compact wire identifier used to correlate
// login results and keep-alive acknowledgements with this session.
func (s RemoteNodeSession) KeyPrefix() [6]byte {
	var p [6]byte
	copy(p[:], s.PublicKey[:6])
	return p
}

// TransportKind identifies how a paired Device is reached.
type TransportKind int

const (
	TransportBLE TransportKind = iota
	TransportSerial
)

// Device is a paired companion device: either a BLE peripheral address
// or a serial port path, plus the firmware identity learned on first
// connect (spec.md §4.8 device CRUD).
type Device struct {
	ID              uuid.UUID
	Transport       TransportKind
	Address         string // BLE MAC or serial port path
	Name            string
	FirmwareVersion string
	FirmwareBuild   string
	Manufacturer    string
	MaxContacts     uint32
	MaxChannels     uint32
	LastConnectedAt time.Time
}

// DeviceInfo describes the radio's firmware and identity, queried once
// per connection (spec.md §3).
type DeviceInfo struct {
	FirmwareVersion string
	FirmwareBuild   string
	Manufacturer    string
	MaxContacts     uint32
	MaxChannels     uint32
}

// Channel is a shared broadcast channel known to this device
// (spec.md §3, §4.8 channel CRUD and unread management).
type Channel struct {
	DeviceID   uuid.UUID
	Index      uint8
	Name       string
	PSKKnown   bool
	UnreadCount uint32
}

// SelfInfo describes this device's own mesh identity and radio-PHY
// parameters (spec.md §3).
type SelfInfo struct {
	PublicKey      [32]byte
	Name           string
	Lat            float64
	Lon            float64
	Frequency      float64
	Bandwidth      float64
	SpreadingFactor uint8
	CodingRate     uint8
	TxPowerDbm     int8
	FeatureFlags   uint32
}
