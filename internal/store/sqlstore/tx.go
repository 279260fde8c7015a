package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/syncerr"
)

// sqlTx implements store.Tx over the connection WithTx pinned for the
// lifetime of one BEGIN IMMEDIATE transaction.
type sqlTx struct {
	ctx  context.Context
	conn *sql.Conn
}

func (tx *sqlTx) GetRecord(recordID string) (*model.Record, bool, error) {
	row := tx.conn.QueryRowContext(tx.ctx, `SELECT id, head_id, deleted FROM records WHERE id = ?`, recordID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (tx *sqlTx) PutRecord(rec *model.Record) error {
	_, err := tx.conn.ExecContext(tx.ctx, `
		INSERT INTO records (id, head_id, deleted) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET head_id = excluded.head_id, deleted = excluded.deleted`,
		rec.ID, rec.HeadID, boolToInt(rec.Deleted))
	return err
}

func (tx *sqlTx) AppendChange(ch *model.Change) error {
	payloadJSON, err := json.Marshal(ch.Payload)
	if err != nil {
		return err
	}
	_, err = tx.conn.ExecContext(tx.ctx,
		`INSERT INTO changes (id, record_id, version, method, payload_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.RecordID, ch.Version, ch.Method, string(payloadJSON), ch.CreatedAt)
	return err
}

func (tx *sqlTx) ResolveRemote(nodeID, remoteID string) (string, bool, error) {
	var recordID string
	err := tx.conn.QueryRowContext(tx.ctx, `SELECT record_id FROM remotes WHERE node_id = ? AND remote_id = ?`, nodeID, remoteID).Scan(&recordID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return recordID, true, nil
}

func (tx *sqlTx) LookupRemote(nodeID, recordID string) (string, bool, error) {
	var remoteID string
	err := tx.conn.QueryRowContext(tx.ctx, `SELECT remote_id FROM remotes WHERE node_id = ? AND record_id = ?`, nodeID, recordID).Scan(&remoteID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return remoteID, true, nil
}

func (tx *sqlTx) BindRemote(nodeID, recordID, remoteID string) error {
	var existing string
	err := tx.conn.QueryRowContext(tx.ctx, `SELECT record_id FROM remotes WHERE node_id = ? AND remote_id = ?`, nodeID, remoteID).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && existing != recordID {
		return syncerr.RemoteConflict("remote id %s for node %s is already bound to record %s", remoteID, nodeID, existing)
	}

	_, err = tx.conn.ExecContext(tx.ctx, `
		INSERT INTO remotes (node_id, record_id, remote_id) VALUES (?, ?, ?)
		ON CONFLICT (node_id, record_id) DO UPDATE SET remote_id = excluded.remote_id`,
		nodeID, recordID, remoteID)
	return err
}

func (tx *sqlTx) ListNodes() ([]*model.Node, error) {
	rows, err := tx.conn.QueryContext(tx.ctx, `SELECT id, name, can_create, can_read, can_update, can_delete, created_at FROM nodes ORDER BY id`)
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

func (tx *sqlTx) GetNode(nodeID string) (*model.Node, bool, error) {
	row := tx.conn.QueryRowContext(tx.ctx, `SELECT id, name, can_create, can_read, can_update, can_delete, created_at FROM nodes WHERE id = ?`, nodeID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (tx *sqlTx) SaveMessage(msg *model.Message) error {
	_, err := tx.conn.ExecContext(tx.ctx,
		`INSERT INTO messages (id, origin_id, destination_id, record_id, change_id, method, remote_id, state, parent_id, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.OriginID, msg.DestinationID, msg.RecordID, msg.ChangeID, msg.Method,
		msg.RemoteID, msg.State, msg.ParentID, msg.Reason, msg.CreatedAt, msg.UpdatedAt)
	return err
}

func (tx *sqlTx) SeenChangeIDs(destinationID string) (map[string]bool, error) {
	rows, err := tx.conn.QueryContext(tx.ctx,
		`SELECT DISTINCT change_id FROM messages WHERE destination_id = ? AND state != ?`,
		destinationID, model.MessageStateFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (tx *sqlTx) ListRecords() ([]*model.Record, error) {
	rows, err := tx.conn.QueryContext(tx.ctx, `SELECT id, head_id, deleted FROM records ORDER BY id`)
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

func (tx *sqlTx) Head(recordID string) (*model.Change, bool, error) {
	row := tx.conn.QueryRowContext(tx.ctx,
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
