package validation

import (
	"context"
	"errors"

	"github.com/mosaicnetworks/cellchain/src/dhtop"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxEntrySize is the largest entry accepted, in encoded bytes.
	DefaultMaxEntrySize = 16000000
	// DefaultMaxTagSize is the largest link tag accepted.
	DefaultMaxTagSize = 1000
)

// ErrHashMismatch is returned by CheckOpHash.
var ErrHashMismatch = errors.New("op hash does not match its content")

// Deps resolves the actions an op depends on. RetrieveAction returns nil
// without error when the action is not available yet.
type Deps interface {
	RetrieveAction(ctx context.Context, h hh.ActionHash) (*types.SignedAction, error)
}

// Config holds the per-DNA limits of system validation.
type Config struct {
	MaxEntrySize int
	MaxTagSize   int
	// RateLimit is the number of ops per second accepted from one author.
	// Zero disables rate limiting.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the default limits with rate limiting disabled.
func DefaultConfig() Config {
	return Config{
		MaxEntrySize: DefaultMaxEntrySize,
		MaxTagSize:   DefaultMaxTagSize,
	}
}

// SysValidator runs the system checks of one DNA.
type SysValidator struct {
	dna     *types.DnaDef
	dnaHash hh.DnaHash
	conf    Config
	limiter *authorLimiter
	logger  *logrus.Entry
}

// NewSysValidator creates a SysValidator for a DNA.
func NewSysValidator(dna *types.DnaDef, conf Config, logger *logrus.Entry) *SysValidator {
	if conf.MaxEntrySize <= 0 {
		conf.MaxEntrySize = DefaultMaxEntrySize
	}
	if conf.MaxTagSize <= 0 {
		conf.MaxTagSize = DefaultMaxTagSize
	}
	return &SysValidator{
		dna:     dna,
		dnaHash: dna.Hash(),
		conf:    conf,
		limiter: newAuthorLimiter(conf.RateLimit, conf.RateBurst),
		logger:  logger,
	}
}

// CheckOpHash compares the hash announced for an op with its content.
func CheckOpHash(op *types.DhtOp, claimed hh.OpHash) error {
	if op.Hash() != claimed {
		return ErrHashMismatch
	}
	return nil
}

// Validate runs every check in order and stops at the first that does not
// accept the op.
func (v *SysValidator) Validate(ctx context.Context, op *types.DhtOp, deps Deps) Outcome {
	if out := v.CheckSelf(op); out.Verdict != Accepted {
		return out
	}
	if out := v.CheckDeps(ctx, op, deps); out.Verdict != Accepted {
		return out
	}
	if !v.limiter.allow(op.Author()) {
		return Defer("author rate limited")
	}
	return Accept()
}

// CheckSelf runs the checks that need nothing but the op: signature, hash
// consistency, structure and size limits. The author's own chain runs it on
// everything it produces.
func (v *SysValidator) CheckSelf(op *types.DhtOp) Outcome {
	sa := &op.Action
	a := &sa.Action

	if !sa.Verify() {
		return Reject("invalid signature")
	}

	if err := a.Validate(); err != nil {
		return Reject("malformed action: %v", err)
	}
	if op.Entry != nil {
		if !a.HasEntry() {
			return Reject("%s op carries an entry for a %s action", op.Type, a.Type)
		}
		if !op.Type.CarriesEntry() {
			return Reject("%s op must not carry an entry", op.Type)
		}
		if a.IsPrivate() {
			return Reject("private entry published")
		}
		if op.Entry.Hash() != a.EntryHash {
			return Reject("entry hash mismatch")
		}
		if !op.Entry.MatchesType(*a.EntryType) {
			return Reject("entry does not match its entry type")
		}
		if op.Entry.Size() > v.conf.MaxEntrySize {
			return Reject("entry of %d bytes exceeds %d", op.Entry.Size(), v.conf.MaxEntrySize)
		}
	} else if dhtop.RequiresEntry(op.Type, a) {
		return Reject("%s op without its entry", op.Type)
	}

	if !opTypeAllowed(op.Type, a) {
		return Reject("%s op cannot come from a %s action", op.Type, a.Type)
	}

	switch a.Type {
	case types.ActionDna:
		if a.DnaHash != v.dnaHash {
			return Reject("Dna action for another DNA")
		}
		if a.Timestamp < v.dna.OriginTime {
			return Reject("Dna action before the DNA origin time")
		}
	case types.ActionCreate, types.ActionUpdate:
		if err := v.dna.CheckEntryType(*a.EntryType); err != nil {
			return Reject("%v", err)
		}
	case types.ActionCreateLink:
		if err := v.dna.CheckLinkType(a.ZomeIndex, a.LinkType); err != nil {
			return Reject("%v", err)
		}
		if len(a.Tag) > v.conf.MaxTagSize {
			return Reject("link tag of %d bytes exceeds %d", len(a.Tag), v.conf.MaxTagSize)
		}
	}
	return Accept()
}

// opTypeAllowed reports whether the action produces ops of type t.
func opTypeAllowed(t types.OpType, a *types.Action) bool {
	for _, allowed := range dhtop.OpTypesFor(a) {
		if allowed == t {
			return true
		}
	}
	return false
}

// CheckDeps runs the causal checks: the previous action and any action the
// op refers to must be available, and the chain must be well formed at this
// point.
func (v *SysValidator) CheckDeps(ctx context.Context, op *types.DhtOp, deps Deps) Outcome {
	a := &op.Action.Action
	if a.Type == types.ActionDna {
		return Accept()
	}

	var missing []hh.HoloHash
	prev, err := deps.RetrieveAction(ctx, a.PrevAction)
	if err != nil {
		v.logger.WithError(err).Debug("Retrieve prev_action")
	}
	if prev == nil {
		missing = append(missing, a.PrevAction)
	}

	var target *types.SignedAction
	if ref := referencedAction(a); !ref.IsZero() {
		target, err = deps.RetrieveAction(ctx, ref)
		if err != nil {
			v.logger.WithError(err).Debug("Retrieve referenced action")
		}
		if target == nil {
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		return Missing(missing...)
	}

	if out := checkChain(a, &prev.Action); out.Verdict != Accepted {
		return out
	}
	if target != nil {
		return checkReference(a, &target.Action)
	}
	return Accept()
}

func referencedAction(a *types.Action) hh.ActionHash {
	switch a.Type {
	case types.ActionUpdate:
		return a.OriginalAction
	case types.ActionDelete:
		return a.DeletesAction
	case types.ActionDeleteLink:
		return a.LinkAddAction
	}
	return hh.ActionHash{}
}

// checkChain checks an action against its predecessor.
func checkChain(a, prev *types.Action) Outcome {
	if prev.Author != a.Author {
		return Reject("prev_action by another author")
	}
	if a.Seq != prev.Seq+1 {
		return Reject("seq %d does not follow prev seq %d", a.Seq, prev.Seq)
	}
	if a.Timestamp <= prev.Timestamp {
		return Reject("timestamp %v not after prev timestamp %v", a.Timestamp, prev.Timestamp)
	}
	if prev.Type == types.ActionCloseChain {
		return Reject("action after CloseChain")
	}
	switch a.Seq {
	case 1:
		if a.Type != types.ActionAgentValidationPkg {
			return Reject("action 1 must be AgentValidationPkg")
		}
	case 2:
		if a.Type != types.ActionCreate || a.EntryType.Kind != types.EntryAgent || a.EntryHash != a.Author.Retype(hh.Entry) {
			return Reject("action 2 must create the author's agent entry")
		}
	default:
		if a.Type == types.ActionAgentValidationPkg {
			return Reject("AgentValidationPkg at seq %d", a.Seq)
		}
		if a.Type == types.ActionOpenChain && a.Seq != 3 {
			return Reject("OpenChain at seq %d", a.Seq)
		}
	}
	return Accept()
}

// checkReference checks Update, Delete and DeleteLink against their target.
func checkReference(a, target *types.Action) Outcome {
	switch a.Type {
	case types.ActionUpdate:
		if !target.HasEntry() {
			return Reject("update of a %s action", target.Type)
		}
		if target.EntryHash != a.OriginalEntry {
			return Reject("original_entry does not match the original action")
		}
		if *target.EntryType != *a.EntryType {
			return Reject("update changes the entry type")
		}
	case types.ActionDelete:
		if !target.HasEntry() {
			return Reject("delete of a %s action", target.Type)
		}
		if target.EntryHash != a.DeletesEntry {
			return Reject("deletes_entry does not match the deleted action")
		}
	case types.ActionDeleteLink:
		if target.Type != types.ActionCreateLink {
			return Reject("link_add_action is a %s action", target.Type)
		}
		if target.Base != a.Base {
			return Reject("DeleteLink base differs from the CreateLink base")
		}
	}
	return Accept()
}
