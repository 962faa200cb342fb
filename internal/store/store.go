package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store persists mesh history in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and runs the schema
// migration. ":memory:" opens a private in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", strings.TrimPrefix(pragma, "PRAGMA "), err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "store"), now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS nodes (
			id            TEXT PRIMARY KEY,
			num           INTEGER NOT NULL,
			long_name     TEXT,
			short_name    TEXT,
			mac_addr      TEXT,
			hw_model      TEXT,
			role          TEXT,
			latitude      REAL,
			longitude     REAL,
			altitude      INTEGER,
			battery_level INTEGER,
			voltage       REAL,
			snr           REAL,
			hops_away     INTEGER,
			last_heard    TEXT,
			is_favorite   INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_nodes_num ON nodes(num);

		CREATE TABLE IF NOT EXISTS messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			from_node_id TEXT,
			to_node_id   TEXT,
			channel      INTEGER NOT NULL DEFAULT 0,
			text         TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			is_outgoing  INTEGER NOT NULL DEFAULT 0,
			ack_received INTEGER NOT NULL DEFAULT 0,
			ack_failed   INTEGER NOT NULL DEFAULT 0,
			ack_error    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

		CREATE TABLE IF NOT EXISTS telemetry (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id             TEXT NOT NULL,
			battery_level       INTEGER,
			voltage             REAL,
			channel_utilization REAL,
			air_util_tx         REAL,
			uptime_seconds      INTEGER,
			timestamp           TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_telemetry_node ON telemetry(node_id, timestamp);

		CREATE TABLE IF NOT EXISTS positions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id   TEXT NOT NULL,
			latitude  REAL NOT NULL,
			longitude REAL NOT NULL,
			altitude  INTEGER,
			timestamp TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_positions_node ON positions(node_id, timestamp);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// timeLayout is fixed width so that timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

// ============================================================================
// Messages
// ============================================================================

// Message is one stored text message, incoming or outgoing.
// @Description Stored text message
type Message struct {
	ID          int64     `json:"id"`
	FromNodeID  *string   `json:"from_node_id"`
	ToNodeID    *string   `json:"to_node_id"`
	Channel     uint32    `json:"channel"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Outgoing    bool      `json:"is_outgoing"`
	AckReceived bool      `json:"ack_received"`
	AckFailed   bool      `json:"ack_failed"`
	AckError    *string   `json:"ack_error"`
}

// MessageQuery filters ListMessages. A nil Channel matches every channel.
type MessageQuery struct {
	Limit   int
	Offset  int
	Channel *uint32
}

const messageColumns = "id, from_node_id, to_node_id, channel, text, timestamp, is_outgoing, ack_received, ack_failed, ack_error"

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertMessage stores m and returns it with its assigned id. A zero
// Timestamp is set to now.
func (s *Store) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.Timestamp = m.Timestamp.UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (from_node_id, to_node_id, channel, text, timestamp, is_outgoing) VALUES (?, ?, ?, ?, ?, ?)",
		m.FromNodeID, m.ToNodeID, m.Channel, m.Text, formatTime(m.Timestamp), m.Outgoing,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// RecordOutgoing stores a message this bridge sent. from is the local node
// id; an empty to means the channel broadcast.
func (s *Store) RecordOutgoing(ctx context.Context, from, to string, channel uint32, text string) (Message, error) {
	return s.InsertMessage(ctx, Message{
		FromNodeID: nullable(from),
		ToNodeID:   nullable(to),
		Channel:    channel,
		Text:       text,
		Outgoing:   true,
	})
}

// MarkAck resolves the most recent unresolved outgoing message to (to, text).
// It reports whether a message matched.
func (s *Store) MarkAck(ctx context.Context, to, text string, success bool, reason string) (bool, error) {
	var errText *string
	if !success {
		errText = nullable(reason)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET ack_received = ?, ack_failed = ?, ack_error = ?
		WHERE id = (
			SELECT id FROM messages
			WHERE to_node_id = ? AND text = ? AND is_outgoing = 1 AND ack_received = 0 AND ack_failed = 0
			ORDER BY timestamp DESC, id DESC LIMIT 1
		)`,
		success, !success, errText, to, text,
	)
	if err != nil {
		return false, fmt.Errorf("mark ack: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListMessages returns messages newest first.
func (s *Store) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	query := "SELECT " + messageColumns + " FROM messages"
	args := []any{}
	if q.Channel != nil {
		query += " WHERE channel = ?"
		args = append(args, *q.Channel)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanMessage(row scanner) (Message, error) {
	var m Message
	var ts string
	if err := row.Scan(&m.ID, &m.FromNodeID, &m.ToNodeID, &m.Channel, &m.Text, &ts,
		&m.Outgoing, &m.AckReceived, &m.AckFailed, &m.AckError); err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Timestamp = parseTime(ts)
	return m, nil
}

// ============================================================================
// Telemetry and positions
// ============================================================================

// Telemetry is one stored device metrics sample.
// @Description Stored device telemetry sample
type Telemetry struct {
	ID                 int64     `json:"id"`
	NodeID             string    `json:"node_id"`
	BatteryLevel       *uint32   `json:"battery_level"`
	Voltage            *float64  `json:"voltage"`
	ChannelUtilization *float64  `json:"channel_utilization"`
	AirUtilTx          *float64  `json:"air_util_tx"`
	UptimeSeconds      *uint32   `json:"uptime_seconds"`
	Timestamp          time.Time `json:"timestamp"`
}

// Position is one stored position report.
// @Description Stored position report
type Position struct {
	ID        int64     `json:"id"`
	NodeID    string    `json:"node_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *int32    `json:"altitude"`
	Timestamp time.Time `json:"timestamp"`
}

// InsertTelemetry stores t. A zero Timestamp is set to now.
func (s *Store) InsertTelemetry(ctx context.Context, t Telemetry) (Telemetry, error) {
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	t.Timestamp = t.Timestamp.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry (node_id, battery_level, voltage, channel_utilization, air_util_tx, uptime_seconds, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.NodeID, t.BatteryLevel, t.Voltage, t.ChannelUtilization, t.AirUtilTx, t.UptimeSeconds, formatTime(t.Timestamp),
	)
	if err != nil {
		return Telemetry{}, fmt.Errorf("insert telemetry: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return t, nil
}

// InsertPosition stores p. A zero Timestamp is set to now.
func (s *Store) InsertPosition(ctx context.Context, p Position) (Position, error) {
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	p.Timestamp = p.Timestamp.UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO positions (node_id, latitude, longitude, altitude, timestamp) VALUES (?, ?, ?, ?, ?)",
		p.NodeID, p.Latitude, p.Longitude, p.Altitude, formatTime(p.Timestamp),
	)
	if err != nil {
		return Position{}, fmt.Errorf("insert position: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return p, nil
}

// ListTelemetry returns samples newest first, optionally for one node.
func (s *Store) ListTelemetry(ctx context.Context, nodeID string, limit int) ([]Telemetry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, node_id, battery_level, voltage, channel_utilization, air_util_tx, uptime_seconds, timestamp FROM telemetry"
	args := []any{}
	if nodeID != "" {
		query += " WHERE node_id = ?"
		args = append(args, nodeID)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	defer rows.Close()

	out := []Telemetry{}
	for rows.Next() {
		var t Telemetry
		var ts string
		if err := rows.Scan(&t.ID, &t.NodeID, &t.BatteryLevel, &t.Voltage, &t.ChannelUtilization,
			&t.AirUtilTx, &t.UptimeSeconds, &ts); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		t.Timestamp = parseTime(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListPositions returns positions newest first, optionally for one node.
func (s *Store) ListPositions(ctx context.Context, nodeID string, limit int) ([]Position, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, node_id, latitude, longitude, altitude, timestamp FROM positions"
	args := []any{}
	if nodeID != "" {
		query += " WHERE node_id = ?"
		args = append(args, nodeID)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	out := []Position{}
	for rows.Next() {
		var p Position
		var ts string
		if err := rows.Scan(&p.ID, &p.NodeID, &p.Latitude, &p.Longitude, &p.Altitude, &ts); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Timestamp = parseTime(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ============================================================================
// Nodes
// ============================================================================

// Node is the stored view of a mesh node. Nil fields were never reported.
// @Description Stored mesh node
type Node struct {
	ID           string     `json:"id" example:"!a1b2c3d4"`
	Num          uint32     `json:"num"`
	LongName     *string    `json:"long_name"`
	ShortName    *string    `json:"short_name"`
	MacAddr      *string    `json:"mac_addr"`
	HWModel      *string    `json:"hw_model"`
	Role         *string    `json:"role"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	Altitude     *int32     `json:"altitude"`
	BatteryLevel *uint32    `json:"battery_level"`
	Voltage      *float64   `json:"voltage"`
	SNR          *float64   `json:"snr"`
	HopsAway     *uint32    `json:"hops_away"`
	LastHeard    *time.Time `json:"last_heard"`
	IsFavorite   bool       `json:"is_favorite"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

const nodeColumns = `id, num, long_name, short_name, mac_addr, hw_model, role, latitude, longitude, altitude,
	battery_level, voltage, snr, hops_away, last_heard, is_favorite, created_at, updated_at`

// UpsertNode inserts n or merges it into the stored row. Nil fields keep the
// stored value.
func (s *Store) UpsertNode(ctx context.Context, n Node) error {
	now := formatTime(s.now())
	var lastHeard *string
	if n.LastHeard != nil {
		v := formatTime(*n.LastHeard)
		lastHeard = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			num           = excluded.num,
			long_name     = COALESCE(excluded.long_name, nodes.long_name),
			short_name    = COALESCE(excluded.short_name, nodes.short_name),
			mac_addr      = COALESCE(excluded.mac_addr, nodes.mac_addr),
			hw_model      = COALESCE(excluded.hw_model, nodes.hw_model),
			role          = COALESCE(excluded.role, nodes.role),
			latitude      = COALESCE(excluded.latitude, nodes.latitude),
			longitude     = COALESCE(excluded.longitude, nodes.longitude),
			altitude      = COALESCE(excluded.altitude, nodes.altitude),
			battery_level = COALESCE(excluded.battery_level, nodes.battery_level),
			voltage       = COALESCE(excluded.voltage, nodes.voltage),
			snr           = COALESCE(excluded.snr, nodes.snr),
			hops_away     = COALESCE(excluded.hops_away, nodes.hops_away),
			last_heard    = COALESCE(excluded.last_heard, nodes.last_heard),
			is_favorite   = MAX(excluded.is_favorite, nodes.is_favorite),
			updated_at    = excluded.updated_at`,
		n.ID, n.Num, n.LongName, n.ShortName, n.MacAddr, n.HWModel, n.Role, n.Latitude, n.Longitude, n.Altitude,
		n.BatteryLevel, n.Voltage, n.SNR, n.HopsAway, lastHeard, n.IsFavorite, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.ID, err)
	}
	return nil
}

// GetNode returns the node with id, or ErrNotFound.
func (s *Store) GetNode(ctx context.Context, id string) (Node, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return n, err
}

// ListNodes returns every node, most recently heard first.
func (s *Store) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY last_heard IS NULL, last_heard DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanNode(row scanner) (Node, error) {
	var n Node
	var lastHeard sql.NullString
	var created, updated string
	err := row.Scan(&n.ID, &n.Num, &n.LongName, &n.ShortName, &n.MacAddr, &n.HWModel, &n.Role,
		&n.Latitude, &n.Longitude, &n.Altitude, &n.BatteryLevel, &n.Voltage, &n.SNR, &n.HopsAway,
		&lastHeard, &n.IsFavorite, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, err
		}
		return Node{}, fmt.Errorf("scan node: %w", err)
	}
	n.LastHeard = parseNullTime(lastHeard)
	n.CreatedAt = parseTime(created)
	n.UpdatedAt = parseTime(updated)
	return n, nil
}

// SyncNodes upserts every record of a live NodeDB and returns the count.
func (s *Store) SyncNodes(ctx context.Context, nodes map[string]radio.Node) (int, error) {
	synced := 0
	for id, rn := range nodes {
		if id == "" {
			continue
		}
		if err := s.UpsertNode(ctx, nodeFromRadio(id, rn)); err != nil {
			return synced, err
		}
		synced++
	}
	s.logger.Debug("nodes synced", "count", synced)
	return synced, nil
}

func nodeFromRadio(id string, rn radio.Node) Node {
	n := Node{
		ID:           id,
		Num:          rn.Num,
		LongName:     nullable(rn.LongName),
		ShortName:    nullable(rn.ShortName),
		MacAddr:      nullable(rn.MacAddr),
		HWModel:      nullable(rn.HWModel),
		Role:         nullable(rn.Role),
		Latitude:     rn.Latitude,
		Longitude:    rn.Longitude,
		Altitude:     rn.Altitude,
		BatteryLevel: rn.BatteryLevel,
		HopsAway:     rn.HopsAway,
		IsFavorite:   rn.IsFavorite,
	}
	if rn.Voltage != nil {
		v := float64(*rn.Voltage)
		n.Voltage = &v
	}
	if rn.SNR != 0 {
		snr := float64(rn.SNR)
		n.SNR = &snr
	}
	if t := rn.LastHeardTime(); !t.IsZero() {
		n.LastHeard = &t
	}
	return n
}
