package sqlstore

import (
	"database/sql"
	"encoding/json"

	"github.com/syncbroker/syncd/internal/model"
)

// scanner is satisfied by both *sql.Row and *sql.Rows, so the row-shape
// code below works for single-row lookups and multi-row scans alike.
type scanner interface {
	Scan(dest ...any) error
}

const selectMessage = `SELECT id, origin_id, destination_id, record_id, change_id, method, remote_id, state, parent_id, reason, created_at, updated_at FROM messages`

func scanNetwork(row scanner) (*model.Network, error) {
	var n model.Network
	var schemaJSON sql.NullString
	if err := row.Scan(&n.ID, &n.Name, &boolDest{&n.FetchBeforeSend}, &schemaJSON, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if schemaJSON.Valid && schemaJSON.String != "" && schemaJSON.String != "null" {
		if err := json.Unmarshal([]byte(schemaJSON.String), &n.Schema); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func scanNode(row scanner) (*model.Node, error) {
	var n model.Node
	if err := row.Scan(&n.ID, &n.Name,
		&boolDest{&n.Create}, &boolDest{&n.Read}, &boolDest{&n.Update}, &boolDest{&n.Delete},
		&n.CreatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanRecord(row scanner) (*model.Record, error) {
	var r model.Record
	if err := row.Scan(&r.ID, &r.HeadID, &boolDest{&r.Deleted}); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanChange(row scanner) (*model.Change, error) {
	var ch model.Change
	var payloadJSON sql.NullString
	if err := row.Scan(&ch.ID, &ch.RecordID, &ch.Version, &ch.Method, &payloadJSON, &ch.CreatedAt); err != nil {
		return nil, err
	}
	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &ch.Payload); err != nil {
			return nil, err
		}
	}
	return &ch, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var m model.Message
	var originID, remoteID, parentID, reason sql.NullString
	if err := row.Scan(&m.ID, &originID, &m.DestinationID, &m.RecordID, &m.ChangeID, &m.Method,
		&remoteID, &m.State, &parentID, &reason, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.OriginID = nullableString(originID)
	m.RemoteID = nullableString(remoteID)
	m.ParentID = nullableString(parentID)
	m.Reason = nullableString(reason)
	return &m, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// boolDest adapts a *bool to database/sql's Scanner so INTEGER 0/1 columns
// decode straight into model fields without an intermediate int variable
// at every call site.
type boolDest struct{ dst *bool }

func (b *boolDest) Scan(src any) error {
	var nb sql.NullBool
	if err := nb.Scan(src); err != nil {
		return err
	}
	*b.dst = nb.Bool
	return nil
}
