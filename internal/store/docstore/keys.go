package docstore

import "fmt"

// ==================== Key Naming Scheme ====================
// Mirrors the teacher's bucket:/obj:/tag_idx: convention: a primary record
// keyed by its natural id, plus narrow secondary indexes kept in lockstep
// with it for range scans badger has no query language for.

func networkKey() []byte { return []byte("network:singleton") }

func nodeKey(id string) []byte       { return []byte(fmt.Sprintf("node:%s", id)) }
func nodeListPrefix() []byte         { return []byte("node:") }

func recordKey(id string) []byte { return []byte(fmt.Sprintf("record:%s", id)) }
func recordListPrefix() []byte   { return []byte("record:") }

// changeKey is the primary record, looked up by change id (GetChange).
func changeKey(id string) []byte { return []byte(fmt.Sprintf("change:%s", id)) }

// changeVersionKey orders a record's changes so Head can find the latest
// by prefix scan: %010d keeps lexical and numeric order aligned.
func changeVersionKey(recordID string, version int) []byte {
	return []byte(fmt.Sprintf("change_idx:%s:%010d", recordID, version))
}

func changeVersionPrefix(recordID string) []byte {
	return []byte(fmt.Sprintf("change_idx:%s:", recordID))
}

// messageKey is the primary record, looked up by message id.
func messageKey(id string) []byte { return []byte(fmt.Sprintf("message:%s", id)) }

func messageListPrefix() []byte { return []byte("message:") }

// messagePendingKey indexes a message while (and only while) it is
// pending, ordered for FetchNextPending's oldest-first claim. It is
// removed the moment the message leaves the pending state.
func messagePendingKey(destinationID string, createdAtUnixNano int64, id string) []byte {
	return []byte(fmt.Sprintf("msg_pending:%s:%020d:%s", destinationID, createdAtUnixNano, id))
}

func messagePendingPrefix(destinationID string) []byte {
	return []byte(fmt.Sprintf("msg_pending:%s:", destinationID))
}

func remotePairKey(nodeID, recordID string) []byte {
	return []byte(fmt.Sprintf("remote:%s:%s", nodeID, recordID))
}

func remoteAliasKey(nodeID, remoteID string) []byte {
	return []byte(fmt.Sprintf("remote_alias:%s:%s", nodeID, remoteID))
}
