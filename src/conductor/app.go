package conductor

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// AppStatus is the lifecycle state of an installed app.
type AppStatus uint32

const (
	// Disabled apps take no calls. The cells of an app that was never
	// enabled do not publish.
	Disabled AppStatus = iota
	// Running apps take zome calls.
	Running
	// Paused apps take no calls until resumed and keep publishing what they
	// authored.
	Paused
)

func (s AppStatus) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	default:
		return fmt.Sprintf("AppStatus(%d)", uint32(s))
	}
}

// CellID names a cell: one agent running one DNA.
type CellID struct {
	Dna   hh.DnaHash     `json:"dna"`
	Agent hh.AgentPubKey `json:"agent"`
}

func (id CellID) String() string {
	return fmt.Sprintf("%s/%s", id.Dna, id.Agent)
}

// AppInfo describes an installed app.
type AppInfo struct {
	ID     string   `json:"id"`
	Agent  string   `json:"agent"`
	Status string   `json:"status"`
	Cells  []CellID `json:"cells"`
}

// app is one agent running a set of DNAs.
type app struct {
	id     string
	agent  hh.AgentPubKey
	status AppStatus
	cells  []*Cell
}

func (a *app) info() AppInfo {
	info := AppInfo{
		ID:     a.id,
		Agent:  a.agent.String(),
		Status: a.status.String(),
	}
	for _, c := range a.cells {
		info.Cells = append(info.Cells, c.id)
	}
	return info
}
