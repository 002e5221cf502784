package types

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// WarrantKind names the misbehaviour a warrant proves.
type WarrantKind uint8

const (
	// ChainFork warrants carry two actions by the same author at the same seq.
	ChainFork WarrantKind = iota
	// InvalidChainOp warrants carry an action whose op was rejected.
	InvalidChainOp
)

func (k WarrantKind) String() string {
	switch k {
	case ChainFork:
		return "ChainFork"
	case InvalidChainOp:
		return "InvalidChainOp"
	default:
		return fmt.Sprintf("WarrantKind(%d)", uint8(k))
	}
}

// Warrant is a proof of invalid authorship issued by an authority.
type Warrant struct {
	Kind      WarrantKind    `codec:"kind"`
	Author    hh.AgentPubKey `codec:"author"`
	Evidence  []SignedAction `codec:"evidence"`
	Warrantor hh.AgentPubKey `codec:"warrantor"`
	Timestamp Timestamp      `codec:"timestamp"`
}

// Hash returns the WarrantHash of the canonical encoding.
func (w *Warrant) Hash() hh.WarrantHash {
	return hh.HashContent(hh.Warrant, MustEncode(w))
}

// Check verifies that the evidence actually proves the claim, independently
// of who issued the warrant.
func (w *Warrant) Check() error {
	for i := range w.Evidence {
		ev := &w.Evidence[i]
		if ev.Action.Author != w.Author {
			return fmt.Errorf("evidence %d is not authored by the accused", i)
		}
		if !ev.Verify() {
			return fmt.Errorf("evidence %d has a bad signature", i)
		}
	}
	switch w.Kind {
	case ChainFork:
		if len(w.Evidence) != 2 {
			return fmt.Errorf("fork warrant needs two actions, got %d", len(w.Evidence))
		}
		a, b := &w.Evidence[0], &w.Evidence[1]
		if a.Action.Seq != b.Action.Seq {
			return fmt.Errorf("fork evidence at different seqs")
		}
		if a.Hash() == b.Hash() {
			return fmt.Errorf("fork evidence is the same action twice")
		}
	case InvalidChainOp:
		if len(w.Evidence) != 1 {
			return fmt.Errorf("invalid op warrant needs one action, got %d", len(w.Evidence))
		}
	default:
		return fmt.Errorf("unknown warrant kind %d", w.Kind)
	}
	return nil
}

// SignedWarrant is a Warrant signed by its warrantor.
type SignedWarrant struct {
	Warrant   Warrant `codec:"warrant"`
	Signature []byte  `codec:"signature"`
}

// Verify checks the warrantor signature and the evidence.
func (s *SignedWarrant) Verify() error {
	data, err := Encode(&s.Warrant)
	if err != nil {
		return err
	}
	if !keys.Verify(ed25519.PublicKey(s.Warrant.Warrantor.Core()), data, s.Signature) {
		return fmt.Errorf("bad warrant signature")
	}
	return s.Warrant.Check()
}
