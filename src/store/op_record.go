package store

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// Stage is the integration state of an op.
type Stage uint8

const (
	// StagePending ops are waiting for system validation.
	StagePending Stage = iota
	// StageAwaitingSysDeps ops wait for the hashes in Deps to be integrated.
	StageAwaitingSysDeps
	// StageSysValidated ops are waiting for app validation.
	StageSysValidated
	// StageAwaitingAppDeps ops wait for the hashes in Deps to be integrated.
	StageAwaitingAppDeps
	// StageAwaitingIntegration ops hold a final validation status.
	StageAwaitingIntegration
	// StageIntegrated ops are in the integrated table.
	StageIntegrated
	// StageAbandoned ops will never be integrated.
	StageAbandoned
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "Pending"
	case StageAwaitingSysDeps:
		return "AwaitingSysDeps"
	case StageSysValidated:
		return "SysValidated"
	case StageAwaitingAppDeps:
		return "AwaitingAppDeps"
	case StageAwaitingIntegration:
		return "AwaitingIntegration"
	case StageIntegrated:
		return "Integrated"
	case StageAbandoned:
		return "Abandoned"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Terminal reports whether no workflow will move the op again.
func (s Stage) Terminal() bool {
	return s == StageIntegrated || s == StageAbandoned
}

// OpRecord is an op's row: the light form of the op plus its lifecycle and
// publish bookkeeping. The action and entry live in their own tables.
type OpRecord struct {
	Hash       hh.OpHash       `codec:"hash"`
	Type       types.OpType    `codec:"type"`
	ActionHash hh.ActionHash   `codec:"action_hash"`
	Basis      hh.HoloHash     `codec:"basis"`
	Author     hh.AgentPubKey  `codec:"author"`
	Seq        uint32          `codec:"seq"`
	Timestamp  types.Timestamp `codec:"timestamp"`
	EntryHash  hh.EntryHash    `codec:"entry_hash"`
	HasEntry   bool            `codec:"has_entry"`

	Stage          Stage                  `codec:"stage"`
	Validated      bool                   `codec:"validated"`
	Status         types.ValidationStatus `codec:"status"`
	RejectReason   string                 `codec:"reject_reason,omitempty"`
	Deps           []hh.HoloHash          `codec:"deps,omitempty"`
	WhenReceived   types.Timestamp        `codec:"when_received"`
	WhenIntegrated types.Timestamp        `codec:"when_integrated"`

	// Authored bookkeeping
	IsAuthored   bool            `codec:"is_authored"`
	Produced     bool            `codec:"produced"`
	LastPublish  types.Timestamp `codec:"last_publish"`
	PublishCount uint32          `codec:"publish_count"`
	ReceiptCount uint32          `codec:"receipt_count"`
	Receipted    bool            `codec:"receipted"`

	// DHT bookkeeping
	ReceivedFrom    string `codec:"received_from,omitempty"`
	ActivityChecked bool   `codec:"activity_checked"`
	ReceiptSent     bool   `codec:"receipt_sent"`

	// Cache bookkeeping
	Authority string `codec:"authority,omitempty"`
}

// Todo names a work list of op rows a workflow still has to visit. Rows are
// indexed on the lists they belong to so the workflows never walk the whole
// op table.
type Todo uint8

const (
	// TodoPublish lists produced authored ops short of their receipts.
	TodoPublish Todo = iota + 1
	// TodoReceipt lists integrated ops from peers whose receipt was not sent.
	TodoReceipt
	// TodoActivity lists integrated RegisterAgentActivity ops not yet
	// checked for forks.
	TodoActivity
)

var todos = []Todo{TodoPublish, TodoReceipt, TodoActivity}

func (t Todo) String() string {
	switch t {
	case TodoPublish:
		return "Publish"
	case TodoReceipt:
		return "Receipt"
	case TodoActivity:
		return "Activity"
	default:
		return fmt.Sprintf("Todo(%d)", uint8(t))
	}
}

// On reports whether the row belongs on a work list.
func (r *OpRecord) On(t Todo) bool {
	if r.Stage != StageIntegrated {
		return false
	}
	switch t {
	case TodoPublish:
		return r.Produced && !r.Receipted
	case TodoReceipt:
		return r.ReceivedFrom != "" && !r.ReceiptSent
	case TodoActivity:
		return r.Type == types.OpRegisterAgentActivity && !r.ActivityChecked
	}
	return false
}

// NewOpRecord builds the initial row for an op.
func NewOpRecord(op *types.DhtOp) *OpRecord {
	a := &op.Action.Action
	return &OpRecord{
		Hash:         op.Hash(),
		Type:         op.Type,
		ActionHash:   op.Action.Hash(),
		Basis:        op.Basis(),
		Author:       a.Author,
		Seq:          a.Seq,
		Timestamp:    a.Timestamp,
		EntryHash:    a.EntryHash,
		HasEntry:     op.Entry != nil,
		Stage:        StagePending,
		WhenReceived: types.Now(),
	}
}

// IsValidIntegrated reports whether the op counts as held and valid.
func (r *OpRecord) IsValidIntegrated() bool {
	return r.Stage == StageIntegrated && r.Validated && r.Status == types.Valid
}

// SetStatus records a final validation status.
func (r *OpRecord) SetStatus(s types.ValidationStatus) {
	r.Validated = true
	r.Status = s
}
