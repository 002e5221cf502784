package sourcechain

import (
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// Scratch holds the records authored by a single in-flight call. It is owned
// by one goroutine and is not safe for concurrent use.
type Scratch struct {
	records []*types.Record
}

// Records returns the staged records in authoring order.
func (s *Scratch) Records() []*types.Record {
	return s.records
}

// Len returns the number of staged records.
func (s *Scratch) Len() int {
	return len(s.records)
}

// IsEmpty reports whether nothing is staged.
func (s *Scratch) IsEmpty() bool {
	return len(s.records) == 0
}

// Last returns the most recently staged record, or nil.
func (s *Scratch) Last() *types.Record {
	if len(s.records) == 0 {
		return nil
	}
	return s.records[len(s.records)-1]
}

// GetRecord returns a staged record by action hash.
func (s *Scratch) GetRecord(h hh.ActionHash) *types.Record {
	for _, r := range s.records {
		if r.ActionHash() == h {
			return r
		}
	}
	return nil
}

// GetEntry returns a staged entry by hash.
func (s *Scratch) GetEntry(h hh.EntryHash) *types.Entry {
	for _, r := range s.records {
		if r.Entry != nil && r.Action().EntryHash == h {
			return r.Entry
		}
	}
	return nil
}

// RecordsForEntry returns the staged records that create or update an entry.
func (s *Scratch) RecordsForEntry(h hh.EntryHash) []*types.Record {
	var res []*types.Record
	for _, r := range s.records {
		if r.Action().HasEntry() && r.Action().EntryHash == h {
			res = append(res, r)
		}
	}
	return res
}

func (s *Scratch) add(r *types.Record) {
	s.records = append(s.records, r)
}

func (s *Scratch) clear() {
	s.records = nil
}
