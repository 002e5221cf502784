package types

// ChainFilter selects records from a source chain.
type ChainFilter struct {
	// SeqRange bounds action_seq inclusively when set.
	SeqRange *SeqRange `codec:"seq_range,omitempty"`
	// ActionTypes keeps only these action types when non-empty.
	ActionTypes []ActionType `codec:"action_types,omitempty"`
	// EntryTypes keeps only actions with these entry types when non-empty.
	EntryTypes []EntryType `codec:"entry_types,omitempty"`
	// IncludeEntries attaches entries to returned records.
	IncludeEntries bool `codec:"include_entries"`
	// Descending returns the newest action first.
	Descending bool `codec:"descending"`
}

// SeqRange is an inclusive range of action sequence numbers.
type SeqRange struct {
	Start uint32 `codec:"start"`
	End   uint32 `codec:"end"`
}

// Matches reports whether an action passes the filter.
func (f *ChainFilter) Matches(a *Action) bool {
	if f == nil {
		return true
	}
	if f.SeqRange != nil && (a.Seq < f.SeqRange.Start || a.Seq > f.SeqRange.End) {
		return false
	}
	if len(f.ActionTypes) > 0 {
		ok := false
		for _, t := range f.ActionTypes {
			if a.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.EntryTypes) > 0 {
		if a.EntryType == nil {
			return false
		}
		ok := false
		for _, t := range f.EntryTypes {
			if *a.EntryType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// GetStrategy selects how far a read may go to find data.
type GetStrategy uint8

const (
	// GetNetwork reads local stores and asks the authorities when nothing
	// local answers.
	GetNetwork GetStrategy = iota
	// GetLocal never leaves the node.
	GetLocal
)

func (s GetStrategy) String() string {
	if s == GetLocal {
		return "Local"
	}
	return "Network"
}

// GetOptions tune a cascade read.
type GetOptions struct {
	Strategy GetStrategy `codec:"strategy"`
}
