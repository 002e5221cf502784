package store

import (
	"encoding/binary"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// Tables and indexes share one keyspace, separated by prefixes. Hashes are
// fixed-width so raw concatenation keeps keys unambiguous and ordered.
const (
	actionPrefix  = "act_"
	entryPrefix   = "ent_"
	opPrefix      = "op_"
	basisPrefix   = "basis_"
	byActPrefix   = "opact_"
	seqPrefix     = "seq_"
	stagePrefix   = "stage_"
	depPrefix     = "dep_"
	warrantPrefix = "warrant_"
	receiptPrefix = "receipt_"
	headPrefix    = "head_"
	todoPrefix    = "todo_"
)

func join(prefix string, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func actionKey(h hh.ActionHash) []byte {
	return join(actionPrefix, h.Bytes())
}

func entryKey(h hh.EntryHash) []byte {
	return join(entryPrefix, h.Bytes())
}

func opKey(h hh.OpHash) []byte {
	return join(opPrefix, h.Bytes())
}

func basisKey(basis hh.HoloHash, op hh.OpHash) []byte {
	return join(basisPrefix, basis.Bytes(), op.Bytes())
}

func basisScan(basis hh.HoloHash) []byte {
	return join(basisPrefix, basis.Bytes())
}

func byActionKey(action hh.ActionHash, op hh.OpHash) []byte {
	return join(byActPrefix, action.Bytes(), op.Bytes())
}

func byActionScan(action hh.ActionHash) []byte {
	return join(byActPrefix, action.Bytes())
}

func seqBytes(seq uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seq)
	return b
}

func seqKey(author hh.AgentPubKey, seq uint32, action hh.ActionHash) []byte {
	return join(seqPrefix, author.Bytes(), seqBytes(seq), action.Bytes())
}

func seqScan(author hh.AgentPubKey) []byte {
	return join(seqPrefix, author.Bytes())
}

func stageKey(stage Stage, op hh.OpHash) []byte {
	return join(stagePrefix, []byte{byte(stage)}, op.Bytes())
}

func stageScan(stage Stage) []byte {
	return join(stagePrefix, []byte{byte(stage)})
}

func todoKey(todo Todo, op hh.OpHash) []byte {
	return join(todoPrefix, []byte{byte(todo)}, op.Bytes())
}

func todoScan(todo Todo) []byte {
	return join(todoPrefix, []byte{byte(todo)})
}

func depKey(dep hh.HoloHash, op hh.OpHash) []byte {
	return join(depPrefix, dep.Bytes(), op.Bytes())
}

func depScan(dep hh.HoloHash) []byte {
	return join(depPrefix, dep.Bytes())
}

func warrantKey(author hh.AgentPubKey, w hh.WarrantHash) []byte {
	return join(warrantPrefix, author.Bytes(), w.Bytes())
}

func warrantScan(author hh.AgentPubKey) []byte {
	return join(warrantPrefix, author.Bytes())
}

func receiptKey(op hh.OpHash, validator hh.AgentPubKey) []byte {
	return join(receiptPrefix, op.Bytes(), validator.Bytes())
}

func receiptScan(op hh.OpHash) []byte {
	return join(receiptPrefix, op.Bytes())
}

func headKey(author hh.AgentPubKey) []byte {
	return join(headPrefix, author.Bytes())
}

// suffixHash reads the trailing hash of an index key.
func suffixHash(key []byte) hh.HoloHash {
	var h hh.HoloHash
	copy(h[:], key[len(key)-hh.Len:])
	return h
}
