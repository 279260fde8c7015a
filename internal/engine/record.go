package engine

import (
	"time"

	"github.com/syncbroker/syncd/internal/idgen"
	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
	"github.com/syncbroker/syncd/internal/syncerr"
)

// applyChange implements spec §4.3's apply_change: it loads or creates
// the target Record, checks the method against the record's current
// state, and appends a gap-free, version-incrementing Change.
//
//   - recordID == "" (caller resolved no record_id and no bound
//     remote_id): a creation with a fresh id for method=create;
//     NotFoundError for update/delete.
//   - method=create on an existing, non-deleted record: ConflictError.
//   - method=create on an existing, deleted record: resurrects it (not
//     named by the distilled spec; see DESIGN.md's Open Question log).
//   - method=update/delete on a record that doesn't exist: NotFoundError.
//   - method=update/delete on a deleted record: GoneError.
func applyChange(tx store.Tx, ids idgen.Source, recordID string, method model.Method, payload map[string]any) (*model.Record, *model.Change, error) {
	var rec *model.Record
	existed := false

	if recordID != "" {
		r, ok, err := tx.GetRecord(recordID)
		if err != nil {
			return nil, nil, err
		}
		rec, existed = r, ok
	}

	if !existed {
		if method != model.MethodCreate {
			return nil, nil, syncerr.NotFound("record %s not found", recordID)
		}
		id := recordID
		if id == "" {
			id = ids.ID()
		}
		rec = &model.Record{ID: id}
	} else {
		switch method {
		case model.MethodCreate:
			if !rec.Deleted {
				return nil, nil, syncerr.Conflict("record %s already exists", rec.ID)
			}
		case model.MethodUpdate, model.MethodDelete:
			if rec.Deleted {
				return nil, nil, syncerr.Gone("record %s is deleted", rec.ID)
			}
		}
	}

	head, hasHead, err := tx.Head(rec.ID)
	if err != nil {
		return nil, nil, err
	}
	version := 1
	if hasHead {
		version = head.Version + 1
	}

	ch := &model.Change{
		ID:        ids.ID(),
		RecordID:  rec.ID,
		Version:   version,
		Method:    method,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.AppendChange(ch); err != nil {
		return nil, nil, err
	}

	rec.HeadID = ch.ID
	rec.Deleted = method == model.MethodDelete
	if err := tx.PutRecord(rec); err != nil {
		return nil, nil, err
	}

	return rec, ch, nil
}
