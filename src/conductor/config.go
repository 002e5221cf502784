package conductor

import (
	"path/filepath"
	"time"

	"github.com/mosaicnetworks/cellchain/src/peers"
	"github.com/mosaicnetworks/cellchain/src/validation"
	"github.com/mosaicnetworks/cellchain/src/workflow"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultZomeCallTimeout bounds a zome call when the caller gives no
	// deadline.
	DefaultZomeCallTimeout = 30 * time.Second
	// DefaultRedundancy is the number of authorities per basis.
	DefaultRedundancy = 5
)

// Config holds the settings a conductor needs. The config package fills it
// from files and flags.
type Config struct {
	// DataDir holds the badger databases when Store is set.
	DataDir string
	// Store selects badger stores. In-memory stores are used otherwise.
	Store bool
	// Redundancy is the number of authorities per basis.
	Redundancy int
	// ZomeCallTimeout bounds zome calls.
	ZomeCallTimeout time.Duration
	// Peers seeds the peer set of every space.
	Peers []*peers.Peer
	// Moniker names this node in peer sets.
	Moniker string

	Workflow   workflow.Config
	Validation validation.Config

	Logger *logrus.Entry
}

// DefaultConfig returns a configuration with in-memory stores.
func DefaultConfig() Config {
	return Config{
		Redundancy:      DefaultRedundancy,
		ZomeCallTimeout: DefaultZomeCallTimeout,
		Workflow:        workflow.DefaultConfig(),
		Validation:      validation.DefaultConfig(),
	}
}

// dbDir is where the databases of one store of a DNA live.
func (c *Config) dbDir(parts ...string) string {
	return filepath.Join(append([]string{c.DataDir, "db"}, parts...)...)
}
