package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/internal/model"
)

// SQLiteStore persists companion state in a local SQLite database
// (spec.md §4.8), grounded on the same database/sql + modernc.org/sqlite
// pattern the rest of the corpus uses for on-disk persistence.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) a SQLite database at path and runs
// migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	st := &SQLiteStore{db: db, logger: logging.With(zap.String("component", "store"))}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.logger.Info("sqlite store opened", zap.String("path", path))
	return st, nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	transport INTEGER NOT NULL,
	address TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	firmware_version TEXT NOT NULL DEFAULT '',
	firmware_build TEXT NOT NULL DEFAULT '',
	manufacturer TEXT NOT NULL DEFAULT '',
	max_contacts INTEGER NOT NULL DEFAULT 0,
	max_channels INTEGER NOT NULL DEFAULT 0,
	last_connected_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS app_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	public_key BLOB NOT NULL,
	key_prefix BLOB NOT NULL,
	type INTEGER NOT NULL,
	flags INTEGER NOT NULL,
	out_path_length INTEGER NOT NULL,
	out_path BLOB NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	nickname TEXT NOT NULL DEFAULT '',
	blocked INTEGER NOT NULL DEFAULT 0,
	favorite INTEGER NOT NULL DEFAULT 0,
	last_advert_ts INTEGER NOT NULL DEFAULT 0,
	lat REAL NOT NULL DEFAULT 0,
	lon REAL NOT NULL DEFAULT 0,
	last_modified INTEGER NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	last_message_date INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_contacts_device ON contacts(device_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_prefix ON contacts(key_prefix);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	contact_id TEXT NOT NULL DEFAULT '',
	channel_index INTEGER,
	text TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	direction INTEGER NOT NULL,
	status INTEGER NOT NULL,
	text_type INTEGER NOT NULL,
	ack_code INTEGER,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	path_length INTEGER NOT NULL DEFAULT 0,
	snr REAL NOT NULL DEFAULT 0,
	sender_key_prefix BLOB,
	reply_to_id TEXT,
	round_trip_ms INTEGER,
	heard_repeats INTEGER NOT NULL DEFAULT 0,
	is_from_self INTEGER NOT NULL DEFAULT 0,
	received_at_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id, received_at_unix);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(device_id, channel_index, received_at_unix);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_ack ON messages(ack_code) WHERE ack_code IS NOT NULL;

CREATE TABLE IF NOT EXISTS channels (
	device_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	psk_known INTEGER NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (device_id, idx)
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	public_key BLOB NOT NULL,
	key_prefix BLOB NOT NULL,
	role INTEGER NOT NULL,
	is_connected INTEGER NOT NULL DEFAULT 0,
	permission_level INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL DEFAULT '',
	lat REAL NOT NULL DEFAULT 0,
	lon REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_device ON sessions(device_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_prefix ON sessions(key_prefix);

CREATE TABLE IF NOT EXISTS room_messages_seen (
	dedup_key TEXT PRIMARY KEY,
	seen_at_unix INTEGER NOT NULL
);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &StoreError{Op: op, Err: ErrNotFound}
	}
	return &StoreError{Op: op, Err: err}
}

// --- devices -------------------------------------------------------------

func (s *SQLiteStore) SaveDevice(ctx context.Context, d *model.Device) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	const q = `
INSERT INTO devices (id, transport, address, name, firmware_version, firmware_build, manufacturer, max_contacts, max_channels, last_connected_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	transport=excluded.transport, address=excluded.address, name=excluded.name,
	firmware_version=excluded.firmware_version, firmware_build=excluded.firmware_build,
	manufacturer=excluded.manufacturer, max_contacts=excluded.max_contacts,
	max_channels=excluded.max_channels, last_connected_at_unix=excluded.last_connected_at_unix
`
	_, err := s.db.ExecContext(ctx, q, d.ID.String(), int(d.Transport), d.Address, d.Name,
		d.FirmwareVersion, d.FirmwareBuild, d.Manufacturer, d.MaxContacts, d.MaxChannels,
		d.LastConnectedAt.Unix())
	return wrapErr("SaveDevice", err)
}

func (s *SQLiteStore) DeviceByID(ctx context.Context, id uuid.UUID) (model.Device, bool, error) {
	const q = `SELECT id, transport, address, name, firmware_version, firmware_build, manufacturer, max_contacts, max_channels, last_connected_at_unix FROM devices WHERE id = ?`
	d, err := scanDevice(s.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, false, nil
		}
		return model.Device{}, false, wrapErr("DeviceByID", err)
	}
	return d, true, nil
}

func scanDevice(row *sql.Row) (model.Device, error) {
	var (
		d          model.Device
		idStr      string
		transport  int
		lastConn   int64
	)
	if err := row.Scan(&idStr, &transport, &d.Address, &d.Name, &d.FirmwareVersion,
		&d.FirmwareBuild, &d.Manufacturer, &d.MaxContacts, &d.MaxChannels, &lastConn); err != nil {
		return model.Device{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Device{}, err
	}
	d.ID = id
	d.Transport = model.TransportKind(transport)
	d.LastConnectedAt = time.Unix(lastConn, 0)
	return d, nil
}

func (s *SQLiteStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	const q = `SELECT id, transport, address, name, firmware_version, firmware_build, manufacturer, max_contacts, max_channels, last_connected_at_unix FROM devices ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapErr("ListDevices", err)
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var (
			d         model.Device
			idStr     string
			transport int
			lastConn  int64
		)
		if err := rows.Scan(&idStr, &transport, &d.Address, &d.Name, &d.FirmwareVersion,
			&d.FirmwareBuild, &d.Manufacturer, &d.MaxContacts, &d.MaxChannels, &lastConn); err != nil {
			return nil, wrapErr("ListDevices", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, wrapErr("ListDevices", err)
		}
		d.ID = id
		d.Transport = model.TransportKind(transport)
		d.LastConnectedAt = time.Unix(lastConn, 0)
		out = append(out, d)
	}
	return out, wrapErr("ListDevices", rows.Err())
}

func (s *SQLiteStore) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id.String())
	return wrapErr("DeleteDevice", err)
}

func (s *SQLiteStore) ActiveDeviceID(ctx context.Context) (uuid.UUID, bool, error) {
	const q = `SELECT value FROM app_state WHERE key = 'active_device_id'`
	var value string
	err := s.db.QueryRowContext(ctx, q).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, wrapErr("ActiveDeviceID", err)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, wrapErr("ActiveDeviceID", err)
	}
	return id, true, nil
}

func (s *SQLiteStore) SetActiveDeviceID(ctx context.Context, id uuid.UUID) error {
	const q = `INSERT INTO app_state (key, value) VALUES ('active_device_id', ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`
	_, err := s.db.ExecContext(ctx, q, id.String())
	return wrapErr("SetActiveDeviceID", err)
}

// --- contacts --------------------------------------------------------------

func (s *SQLiteStore) SaveContact(ctx context.Context, c *model.Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	prefix := c.KeyPrefix()
	const q = `
INSERT INTO contacts (id, device_id, public_key, key_prefix, type, flags, out_path_length, out_path, name, nickname, blocked, favorite, last_advert_ts, lat, lon, last_modified, unread_count, last_message_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	device_id=excluded.device_id, public_key=excluded.public_key, key_prefix=excluded.key_prefix,
	type=excluded.type, flags=excluded.flags, out_path_length=excluded.out_path_length,
	out_path=excluded.out_path, name=excluded.name, nickname=excluded.nickname,
	blocked=excluded.blocked, favorite=excluded.favorite, last_advert_ts=excluded.last_advert_ts,
	lat=excluded.lat, lon=excluded.lon, last_modified=excluded.last_modified,
	unread_count=excluded.unread_count, last_message_date=excluded.last_message_date
`
	_, err := s.db.ExecContext(ctx, q, c.ID.String(), c.DeviceID.String(), c.PublicKey[:], prefix[:],
		int(c.Type), c.Flags, c.OutPathLength, c.OutPath, c.Name, c.Nickname,
		boolToInt(c.Blocked), boolToInt(c.Favorite), c.LastAdvertTs, c.Lat, c.Lon, c.LastModified,
		c.UnreadCount, c.LastMessageDate)
	return wrapErr("SaveContact", err)
}

// IncrementContactUnread bumps unread_count and sets last_message_date
// atomically for a drained inbound contact message (spec.md §4.6).
func (s *SQLiteStore) IncrementContactUnread(ctx context.Context, contactID uuid.UUID, messageTimestamp uint32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET unread_count = unread_count + 1, last_message_date = ? WHERE id = ?`,
		messageTimestamp, contactID.String())
	return checkRowsAffected("IncrementContactUnread", res, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const contactColumns = `id, device_id, public_key, type, flags, out_path_length, out_path, name, nickname, blocked, favorite, last_advert_ts, lat, lon, last_modified, unread_count, last_message_date`

func scanContact(row interface {
	Scan(dest ...any) error
}) (model.Contact, error) {
	var (
		c           model.Contact
		idStr       string
		deviceIDStr string
		publicKey   []byte
		outPathLen  int
	)
	if err := row.Scan(&idStr, &deviceIDStr, &publicKey, &c.Type, &c.Flags, &outPathLen, &c.OutPath,
		&c.Name, &c.Nickname, &c.Blocked, &c.Favorite, &c.LastAdvertTs, &c.Lat, &c.Lon, &c.LastModified,
		&c.UnreadCount, &c.LastMessageDate); err != nil {
		return model.Contact{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Contact{}, err
	}
	deviceID, err := uuid.Parse(deviceIDStr)
	if err != nil {
		return model.Contact{}, err
	}
	c.ID = id
	c.DeviceID = deviceID
	c.OutPathLength = int8(outPathLen)
	copy(c.PublicKey[:], publicKey)
	return c, nil
}

func (s *SQLiteStore) ContactByID(ctx context.Context, id uuid.UUID) (model.Contact, bool, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ?`
	c, err := scanContact(s.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Contact{}, false, nil
		}
		return model.Contact{}, false, wrapErr("ContactByID", err)
	}
	return c, true, nil
}

func (s *SQLiteStore) ContactByPublicKey(ctx context.Context, deviceID uuid.UUID, publicKey [32]byte) (model.Contact, bool, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE device_id = ? AND public_key = ?`
	c, err := scanContact(s.db.QueryRowContext(ctx, q, deviceID.String(), publicKey[:]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Contact{}, false, nil
		}
		return model.Contact{}, false, wrapErr("ContactByPublicKey", err)
	}
	return c, true, nil
}

func (s *SQLiteStore) ContactByKeyPrefix(ctx context.Context, prefix [6]byte) (model.Contact, bool, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE key_prefix = ?`
	c, err := scanContact(s.db.QueryRowContext(ctx, q, prefix[:]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Contact{}, false, nil
		}
		return model.Contact{}, false, wrapErr("ContactByKeyPrefix", err)
	}
	return c, true, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, deviceID uuid.UUID) ([]model.Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE device_id = ? ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q, deviceID.String())
	if err != nil {
		return nil, wrapErr("ListContacts", err)
	}
	defer rows.Close()
	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, wrapErr("ListContacts", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("ListContacts", rows.Err())
}

func (s *SQLiteStore) DeleteContact(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id.String())
	return wrapErr("DeleteContact", err)
}

// --- messages ----------------------------------------------------------

const messageColumns = `id, device_id, contact_id, channel_index, text, timestamp, direction, status, text_type, ack_code, attempt_count, path_length, snr, sender_key_prefix, reply_to_id, round_trip_ms, heard_repeats, is_from_self, received_at_unix`

func (s *SQLiteStore) SaveMessage(ctx context.Context, m *model.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	contactID := ""
	if m.ContactID != uuid.Nil {
		contactID = m.ContactID.String()
	}
	var replyTo sql.NullString
	if m.ReplyToID != nil {
		replyTo = sql.NullString{String: m.ReplyToID.String(), Valid: true}
	}
	var channelIndex sql.NullInt64
	if m.ChannelIndex != nil {
		channelIndex = sql.NullInt64{Int64: int64(*m.ChannelIndex), Valid: true}
	}
	var ackCode sql.NullInt64
	if m.AckCode != nil {
		ackCode = sql.NullInt64{Int64: int64(*m.AckCode), Valid: true}
	}
	var roundTrip sql.NullInt64
	if m.RoundTripMs != nil {
		roundTrip = sql.NullInt64{Int64: int64(*m.RoundTripMs), Valid: true}
	}

	q := `
INSERT INTO messages (` + messageColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status=excluded.status, ack_code=excluded.ack_code, attempt_count=excluded.attempt_count,
	round_trip_ms=excluded.round_trip_ms, heard_repeats=excluded.heard_repeats
`
	_, err := s.db.ExecContext(ctx, q, m.ID.String(), m.DeviceID.String(), contactID, channelIndex,
		m.Text, m.Timestamp, int(m.Direction), int(m.Status), int(m.TextType), ackCode,
		m.AttemptCount, m.PathLength, m.SNR, m.SenderKeyPrefix[:], replyTo, roundTrip,
		m.HeardRepeats, boolToInt(m.IsFromSelf), m.ReceivedAt.Unix())
	return wrapErr("SaveMessage", err)
}

func scanMessage(row interface {
	Scan(dest ...any) error
}) (model.Message, error) {
	var (
		m            model.Message
		idStr        string
		deviceIDStr  string
		contactIDStr string
		channelIndex sql.NullInt64
		ackCode      sql.NullInt64
		replyTo      sql.NullString
		roundTrip    sql.NullInt64
		senderPrefix []byte
		receivedAt   int64
	)
	if err := row.Scan(&idStr, &deviceIDStr, &contactIDStr, &channelIndex, &m.Text, &m.Timestamp,
		&m.Direction, &m.Status, &m.TextType, &ackCode, &m.AttemptCount, &m.PathLength, &m.SNR,
		&senderPrefix, &replyTo, &roundTrip, &m.HeardRepeats, &m.IsFromSelf, &receivedAt); err != nil {
		return model.Message{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Message{}, err
	}
	deviceID, err := uuid.Parse(deviceIDStr)
	if err != nil {
		return model.Message{}, err
	}
	m.ID = id
	m.DeviceID = deviceID
	if contactIDStr != "" {
		if cid, err := uuid.Parse(contactIDStr); err == nil {
			m.ContactID = cid
		}
	}
	if channelIndex.Valid {
		idx := uint8(channelIndex.Int64)
		m.ChannelIndex = &idx
	}
	if ackCode.Valid {
		code := uint32(ackCode.Int64)
		m.AckCode = &code
	}
	if replyTo.Valid {
		if rid, err := uuid.Parse(replyTo.String); err == nil {
			m.ReplyToID = &rid
		}
	}
	if roundTrip.Valid {
		rt := uint32(roundTrip.Int64)
		m.RoundTripMs = &rt
	}
	copy(m.SenderKeyPrefix[:], senderPrefix)
	m.ReceivedAt = time.Unix(receivedAt, 0)
	return m, nil
}

func (s *SQLiteStore) MessageByID(ctx context.Context, id uuid.UUID) (model.Message, bool, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	m, err := scanMessage(s.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, false, nil
		}
		return model.Message{}, false, wrapErr("MessageByID", err)
	}
	return m, true, nil
}

func (s *SQLiteStore) MessageByAckCode(ctx context.Context, ackCode uint32) (model.Message, bool, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE ack_code = ?`
	m, err := scanMessage(s.db.QueryRowContext(ctx, q, ackCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, false, nil
		}
		return model.Message{}, false, wrapErr("MessageByAckCode", err)
	}
	return m, true, nil
}

func (s *SQLiteStore) MessagesByContact(ctx context.Context, contactID uuid.UUID, page MessagePage) ([]model.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE contact_id = ?`
	args := []any{contactID.String()}
	if !page.Before.IsZero() {
		q += ` AND received_at_unix < ?`
		args = append(args, page.Before.Unix())
	}
	q += ` ORDER BY received_at_unix DESC`
	if page.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, page.Limit)
	}
	return s.queryMessages(ctx, q, args...)
}

func (s *SQLiteStore) MessagesByChannel(ctx context.Context, deviceID uuid.UUID, channelIndex uint8, page MessagePage) ([]model.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE device_id = ? AND channel_index = ?`
	args := []any{deviceID.String(), channelIndex}
	if !page.Before.IsZero() {
		q += ` AND received_at_unix < ?`
		args = append(args, page.Before.Unix())
	}
	q += ` ORDER BY received_at_unix DESC`
	if page.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, page.Limit)
	}
	return s.queryMessages(ctx, q, args...)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("queryMessages", err)
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr("queryMessages", err)
		}
		out = append(out, m)
	}
	return out, wrapErr("queryMessages", rows.Err())
}

func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status model.MessageStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, int(status), id.String())
	return checkRowsAffected("UpdateMessageStatus", res, err)
}

func (s *SQLiteStore) UpdateMessageAck(ctx context.Context, id uuid.UUID, ackCode uint32, roundTripMs uint32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET ack_code = ?, round_trip_ms = ?, status = ? WHERE id = ?`,
		ackCode, roundTripMs, int(model.StatusDelivered), id.String())
	return checkRowsAffected("UpdateMessageAck", res, err)
}

func (s *SQLiteStore) IncrementHeardRepeats(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET heard_repeats = heard_repeats + 1 WHERE id = ?`, id.String())
	return checkRowsAffected("IncrementHeardRepeats", res, err)
}

func checkRowsAffected(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return &StoreError{Op: op, Err: ErrNotFound}
	}
	return nil
}

// --- channels ------------------------------------------------------------

func (s *SQLiteStore) SaveChannel(ctx context.Context, c *model.Channel) error {
	const q = `
INSERT INTO channels (device_id, idx, name, psk_known, unread_count) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(device_id, idx) DO UPDATE SET name=excluded.name, psk_known=excluded.psk_known, unread_count=excluded.unread_count
`
	_, err := s.db.ExecContext(ctx, q, c.DeviceID.String(), c.Index, c.Name, boolToInt(c.PSKKnown), c.UnreadCount)
	return wrapErr("SaveChannel", err)
}

func (s *SQLiteStore) ChannelByIndex(ctx context.Context, deviceID uuid.UUID, index uint8) (model.Channel, bool, error) {
	const q = `SELECT device_id, idx, name, psk_known, unread_count FROM channels WHERE device_id = ? AND idx = ?`
	var (
		c           model.Channel
		deviceIDStr string
	)
	err := s.db.QueryRowContext(ctx, q, deviceID.String(), index).Scan(&deviceIDStr, &c.Index, &c.Name, &c.PSKKnown, &c.UnreadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, false, nil
	}
	if err != nil {
		return model.Channel{}, false, wrapErr("ChannelByIndex", err)
	}
	id, err := uuid.Parse(deviceIDStr)
	if err != nil {
		return model.Channel{}, false, wrapErr("ChannelByIndex", err)
	}
	c.DeviceID = id
	return c, true, nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context, deviceID uuid.UUID) ([]model.Channel, error) {
	const q = `SELECT device_id, idx, name, psk_known, unread_count FROM channels WHERE device_id = ? ORDER BY idx`
	rows, err := s.db.QueryContext(ctx, q, deviceID.String())
	if err != nil {
		return nil, wrapErr("ListChannels", err)
	}
	defer rows.Close()
	var out []model.Channel
	for rows.Next() {
		var (
			c           model.Channel
			deviceIDStr string
		)
		if err := rows.Scan(&deviceIDStr, &c.Index, &c.Name, &c.PSKKnown, &c.UnreadCount); err != nil {
			return nil, wrapErr("ListChannels", err)
		}
		id, err := uuid.Parse(deviceIDStr)
		if err != nil {
			return nil, wrapErr("ListChannels", err)
		}
		c.DeviceID = id
		out = append(out, c)
	}
	return out, wrapErr("ListChannels", rows.Err())
}

func (s *SQLiteStore) MarkChannelRead(ctx context.Context, deviceID uuid.UUID, index uint8) error {
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET unread_count = 0 WHERE device_id = ? AND idx = ?`, deviceID.String(), index)
	return checkRowsAffected("MarkChannelRead", res, err)
}

func (s *SQLiteStore) IncrementChannelUnread(ctx context.Context, deviceID uuid.UUID, index uint8) error {
	const q = `
INSERT INTO channels (device_id, idx, unread_count) VALUES (?, ?, 1)
ON CONFLICT(device_id, idx) DO UPDATE SET unread_count = unread_count + 1
`
	_, err := s.db.ExecContext(ctx, q, deviceID.String(), index)
	return wrapErr("IncrementChannelUnread", err)
}

// --- sessions ------------------------------------------------------------

const sessionColumns = `id, device_id, public_key, role, is_connected, permission_level, name, lat, lon`

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.RemoteNodeSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	prefix := sess.KeyPrefix()
	q := `
INSERT INTO sessions (` + sessionColumns + `, key_prefix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	is_connected=excluded.is_connected, permission_level=excluded.permission_level,
	name=excluded.name, lat=excluded.lat, lon=excluded.lon
`
	_, err := s.db.ExecContext(ctx, q, sess.ID.String(), sess.DeviceID.String(), sess.PublicKey[:],
		int(sess.Role), boolToInt(sess.IsConnected), int(sess.PermissionLevel), sess.Name,
		sess.Lat, sess.Lon, prefix[:])
	return wrapErr("SaveSession", err)
}

func scanSession(row interface {
	Scan(dest ...any) error
}) (model.RemoteNodeSession, error) {
	var (
		sess        model.RemoteNodeSession
		idStr       string
		deviceIDStr string
		publicKey   []byte
	)
	if err := row.Scan(&idStr, &deviceIDStr, &publicKey, &sess.Role, &sess.IsConnected,
		&sess.PermissionLevel, &sess.Name, &sess.Lat, &sess.Lon); err != nil {
		return model.RemoteNodeSession{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.RemoteNodeSession{}, err
	}
	deviceID, err := uuid.Parse(deviceIDStr)
	if err != nil {
		return model.RemoteNodeSession{}, err
	}
	sess.ID = id
	sess.DeviceID = deviceID
	copy(sess.PublicKey[:], publicKey)
	return sess, nil
}

func (s *SQLiteStore) SessionByID(ctx context.Context, id uuid.UUID) (model.RemoteNodeSession, bool, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	sess, err := scanSession(s.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RemoteNodeSession{}, false, nil
		}
		return model.RemoteNodeSession{}, false, wrapErr("SessionByID", err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) SessionByKeyPrefix(ctx context.Context, prefix [6]byte) (model.RemoteNodeSession, bool, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE key_prefix = ?`
	sess, err := scanSession(s.db.QueryRowContext(ctx, q, prefix[:]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RemoteNodeSession{}, false, nil
		}
		return model.RemoteNodeSession{}, false, wrapErr("SessionByKeyPrefix", err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, deviceID uuid.UUID) ([]model.RemoteNodeSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE device_id = ? ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q, deviceID.String())
	if err != nil {
		return nil, wrapErr("ListSessions", err)
	}
	defer rows.Close()
	var out []model.RemoteNodeSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapErr("ListSessions", err)
		}
		out = append(out, sess)
	}
	return out, wrapErr("ListSessions", rows.Err())
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	return wrapErr("DeleteSession", err)
}

// --- room message dedup ----------------------------------------------------

func (s *SQLiteStore) RoomMessageSeen(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM room_messages_seen WHERE dedup_key = ?`, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("RoomMessageSeen", err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkRoomMessageSeen(ctx context.Context, key string) error {
	const q = `INSERT OR IGNORE INTO room_messages_seen (dedup_key, seen_at_unix) VALUES (?, ?)`
	_, err := s.db.ExecContext(ctx, q, key, time.Now().Unix())
	return wrapErr("MarkRoomMessageSeen", err)
}

// OutPathLength looks up a contact's current route length by its full
// public key, used by SessionManager to skip keep-alive ticks while
// flood-routed.
func (s *SQLiteStore) OutPathLength(ctx context.Context, publicKey [32]byte) (int8, bool) {
	var pathLen int
	err := s.db.QueryRowContext(ctx, `SELECT out_path_length FROM contacts WHERE public_key = ?`, publicKey[:]).Scan(&pathLen)
	if err != nil {
		return 0, false
	}
	return int8(pathLen), true
}
