package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
	"github.com/syncbroker/syncd/internal/syncerr"
)

// SQLiteStore is the relational Store implementation.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// Open opens (creating if necessary) the sqlite database at dsn and brings
// it to the latest schema version. dsn is a database/sql data source name,
// e.g. "/var/lib/syncd/syncd.db?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)".
func Open(dsn string, log *logrus.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers anyway; avoids "database is locked" churn

	if err := migrate(db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite database: %w", err)
	}

	log.WithField("dsn", dsn).Info("sqlite store opened")
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Network ---

func (s *SQLiteStore) GetNetwork(ctx context.Context) (*model.Network, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, fetch_before_send, schema_json, created_at, updated_at FROM networks LIMIT 1`)
	n, err := scanNetwork(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (s *SQLiteStore) SaveNetwork(ctx context.Context, n *model.Network) error {
	schemaJSON, err := json.Marshal(n.Schema)
	if err != nil {
		return fmt.Errorf("marshal network schema: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO networks (id, name, fetch_before_send, schema_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Name, boolToInt(n.FetchBeforeSend), string(schemaJSON), n.CreatedAt, n.UpdatedAt)
	return err
}

func (s *SQLiteStore) UpdateNetwork(ctx context.Context, n *model.Network) error {
	schemaJSON, err := json.Marshal(n.Schema)
	if err != nil {
		return fmt.Errorf("marshal network schema: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE networks SET name = ?, fetch_before_send = ?, schema_json = ?, updated_at = ? WHERE id = ?`,
		n.Name, boolToInt(n.FetchBeforeSend), string(schemaJSON), n.UpdatedAt, n.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, syncerr.NotFound("network not found"))
}

// --- Node ---

func (s *SQLiteStore) SaveNode(ctx context.Context, n *model.Node) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, name, can_create, can_read, can_update, can_delete, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Name, boolToInt(n.Create), boolToInt(n.Read), boolToInt(n.Update), boolToInt(n.Delete), n.CreatedAt)
	return err
}

func (s *SQLiteStore) UpdateNode(ctx context.Context, n *model.Node) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET name = ?, can_create = ?, can_read = ?, can_update = ?, can_delete = ? WHERE id = ?`,
		n.Name, boolToInt(n.Create), boolToInt(n.Read), boolToInt(n.Update), boolToInt(n.Delete), n.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, syncerr.NotFound("node %s not found", n.ID))
}

func (s *SQLiteStore) GetNode(ctx context.Context, nodeID string) (*model.Node, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, can_create, can_read, can_update, can_delete, created_at FROM nodes WHERE id = ?`, nodeID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (s *SQLiteStore) ListNodes(ctx context.Context) ([]*model.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, can_create, can_read, can_update, can_delete, created_at FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Change / Record reads ---

func (s *SQLiteStore) GetChange(ctx context.Context, changeID string) (*model.Change, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, record_id, version, method, payload_json, created_at FROM changes WHERE id = ?`, changeID)
	ch, err := scanChange(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

func (s *SQLiteStore) Head(ctx context.Context, recordID string) (*model.Change, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, record_id, version, method, payload_json, created_at FROM changes WHERE record_id = ? ORDER BY version DESC LIMIT 1`, recordID)
	ch, err := scanChange(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, recordID string) (*model.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, head_id, deleted FROM records WHERE id = ?`, recordID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, head_id, deleted FROM records ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Message queue ---

func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*model.Message, bool, error) {
	row := s.db.QueryRowContext(ctx, selectMessage+` WHERE id = ?`, messageID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// FetchNextPending claims the oldest pending message for nodeID with a
// two-step inside a BEGIN IMMEDIATE transaction on a pinned connection:
// select the candidate, then CAS it to sent. sqlite has no
// SELECT ... FOR UPDATE, but since the store serializes writers to a single
// connection (SetMaxOpenConns(1)) the select-then-update pair is already
// exclusive (spec §8 property 4).
func (s *SQLiteStore) FetchNextPending(ctx context.Context, nodeID string) (*model.Message, bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, false, err
	}
	msg, ok, err := fetchNextPendingOn(ctx, conn, nodeID)
	if err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return nil, false, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, false, err
	}
	return msg, ok, nil
}

func fetchNextPendingOn(ctx context.Context, conn *sql.Conn, nodeID string) (*model.Message, bool, error) {
	row := conn.QueryRowContext(ctx,
		selectMessage+` WHERE destination_id = ? AND state = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		nodeID, model.MessageStatePending)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	res, err := conn.ExecContext(ctx, `UPDATE messages SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		model.MessageStateSent, now, m.ID, model.MessageStatePending)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		// Raced with another fetch between the select and the CAS.
		return nil, false, nil
	}
	m.State = model.MessageStateSent
	m.UpdatedAt = now
	return m, true, nil
}

func (s *SQLiteStore) TransitionMessage(ctx context.Context, nodeID, messageID string, to model.MessageState, reason *string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, selectMessage+` WHERE id = ?`, messageID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, syncerr.NotFound("message %s not found", messageID)
	}
	if err != nil {
		return nil, err
	}
	if m.DestinationID != nodeID {
		return nil, syncerr.NotFound("message %s not destined to node %s", messageID, nodeID)
	}
	if m.State != model.MessageStateSent {
		return nil, syncerr.State("message %s is %s, not sent", messageID, m.State)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET state = ?, reason = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, reason, now, messageID, model.MessageStateSent)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res, syncerr.State("message %s is no longer sent", messageID)); err != nil {
		return nil, err
	}

	m.State, m.Reason, m.UpdatedAt = to, reason, now
	return m, nil
}

func (s *SQLiteStore) HasPending(ctx context.Context, nodeID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE destination_id = ? AND state = ?`,
		nodeID, model.MessageStatePending).Scan(&n)
	return n, err
}

// --- Remote map ---

func (s *SQLiteStore) BindRemote(ctx context.Context, nodeID, recordID, remoteID string) error {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT record_id FROM remotes WHERE node_id = ? AND remote_id = ?`, nodeID, remoteID).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && existing != recordID {
		return syncerr.RemoteConflict("remote id %s for node %s is already bound to record %s", remoteID, nodeID, existing)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO remotes (node_id, record_id, remote_id) VALUES (?, ?, ?)
		ON CONFLICT (node_id, record_id) DO UPDATE SET remote_id = excluded.remote_id`,
		nodeID, recordID, remoteID)
	return err
}

func (s *SQLiteStore) LookupRemote(ctx context.Context, nodeID, recordID string) (string, bool, error) {
	var remoteID string
	err := s.db.QueryRowContext(ctx, `SELECT remote_id FROM remotes WHERE node_id = ? AND record_id = ?`, nodeID, recordID).Scan(&remoteID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return remoteID, true, nil
}

func (s *SQLiteStore) ResolveRemote(ctx context.Context, nodeID, remoteID string) (string, bool, error) {
	var recordID string
	err := s.db.QueryRowContext(ctx, `SELECT record_id FROM remotes WHERE node_id = ? AND remote_id = ?`, nodeID, remoteID).Scan(&recordID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return recordID, true, nil
}

// --- Publish transaction ---

// WithTx pins a single connection and runs fn inside a BEGIN IMMEDIATE
// transaction, which sqlite grants an exclusive write lock up front rather
// than on first write — the serializable-publish guarantee spec §5 asks
// for (mirrors the teacher's migrations.runMigration pattern of one
// *sql.Tx per unit of work, generalized to a caller-supplied conn so Tx
// methods can share it).
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	tx := &sqlTx{ctx: ctx, conn: conn}
	if err := fn(tx); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
