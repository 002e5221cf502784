package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/conductor"
	"github.com/mosaicnetworks/cellchain/src/validation"
	"github.com/mosaicnetworks/cellchain/src/workflow"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the agent's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// databases
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel           = "debug"
	DefaultBindAddr           = "127.0.0.1:1337"
	DefaultServiceAddr        = "127.0.0.1:8000"
	DefaultTCPTimeout         = 1000 * time.Millisecond
	DefaultMaxPool            = 2
	DefaultStore              = false
	DefaultRedundancy         = conductor.DefaultRedundancy
	DefaultZomeCallTimeout    = conductor.DefaultZomeCallTimeout
	DefaultRequiredReceipts   = workflow.DefaultRequiredReceipts
	DefaultMinPublishInterval = workflow.DefaultMinPublishInterval
	DefaultPublishTick        = workflow.DefaultPublishTick
	DefaultRetryTick          = workflow.DefaultRetryTick
	DefaultAbandonAfter       = workflow.DefaultAbandonAfter
	DefaultBatchSize          = workflow.DefaultBatchSize
	DefaultQueueCapacity      = workflow.DefaultQueueCapacity
	DefaultPoisonThreshold    = workflow.DefaultPoisonThreshold
	DefaultShutdownGrace      = workflow.DefaultShutdownGrace
	DefaultMaxEntrySize       = validation.DefaultMaxEntrySize
	DefaultMaxTagSize         = validation.DefaultMaxTagSize
)

// Config contains all the configuration properties of a cellchain node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log line.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node talks to other
	// nodes.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Redundancy is the number of authorities that hold each basis.
	Redundancy int `mapstructure:"redundancy"`

	// RequiredReceipts is the number of validation receipts after which an
	// authored op stops being published.
	RequiredReceipts int `mapstructure:"required-receipts"`

	// MinPublishInterval is the least time between two publishes of an op.
	MinPublishInterval time.Duration `mapstructure:"min-publish-interval"`

	// PublishTick is how often publish runs without a trigger.
	PublishTick time.Duration `mapstructure:"publish-tick"`

	// RetryTick is how often parked ops are retried.
	RetryTick time.Duration `mapstructure:"retry-tick"`

	// AbandonAfter is how long an op may wait for its dependencies.
	AbandonAfter time.Duration `mapstructure:"abandon-after"`

	WorkflowBatchSize int `mapstructure:"batch-size"`

	// QueueCapacity bounds the queue of incoming ops.
	QueueCapacity int `mapstructure:"queue-capacity"`

	// PoisonThreshold is the number of panics after which an op is
	// quarantined.
	PoisonThreshold int `mapstructure:"poison-threshold"`

	ShutdownGrace time.Duration `mapstructure:"shutdown-grace"`

	ZomeCallTimeout time.Duration `mapstructure:"zome-call-timeout"`

	MaxEntrySize int `mapstructure:"max-entry-size"`
	MaxTagSize   int `mapstructure:"max-tag-size"`

	// RateLimit is the number of ops per second accepted from one author. Zero
	// disables it.
	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`

	// DnaFiles are the dna.yaml manifests installed at startup.
	DnaFiles []string `mapstructure:"dna"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           DefaultLogLevel,
		BindAddr:           DefaultBindAddr,
		ServiceAddr:        DefaultServiceAddr,
		TCPTimeout:         DefaultTCPTimeout,
		MaxPool:            DefaultMaxPool,
		Store:              DefaultStore,
		DatabaseDir:        DefaultDatabaseDir(),
		Redundancy:         DefaultRedundancy,
		RequiredReceipts:   DefaultRequiredReceipts,
		MinPublishInterval: DefaultMinPublishInterval,
		PublishTick:        DefaultPublishTick,
		RetryTick:          DefaultRetryTick,
		AbandonAfter:       DefaultAbandonAfter,
		WorkflowBatchSize:  DefaultBatchSize,
		QueueCapacity:      DefaultQueueCapacity,
		PoisonThreshold:    DefaultPoisonThreshold,
		ShutdownGrace:      DefaultShutdownGrace,
		ZomeCallTimeout:    DefaultZomeCallTimeout,
		MaxEntrySize:       DefaultMaxEntrySize,
		MaxTagSize:         DefaultMaxTagSize,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Conductor translates the node configuration into what a conductor needs.
// Peers are not set here; they come from peers.json.
func (c *Config) Conductor() conductor.Config {
	return conductor.Config{
		DataDir:         c.DatabaseDir,
		Store:           c.Store,
		Redundancy:      c.Redundancy,
		ZomeCallTimeout: c.ZomeCallTimeout,
		Moniker:         c.Moniker,
		Workflow: workflow.Config{
			BatchSize:          c.WorkflowBatchSize,
			QueueCapacity:      c.QueueCapacity,
			PoisonThreshold:    c.PoisonThreshold,
			RequiredReceipts:   c.RequiredReceipts,
			MinPublishInterval: c.MinPublishInterval,
			PublishTick:        c.PublishTick,
			RetryTick:          c.RetryTick,
			AbandonAfter:       c.AbandonAfter,
			ShutdownGrace:      c.ShutdownGrace,
		},
		Validation: validation.Config{
			MaxEntrySize: c.MaxEntrySize,
			MaxTagSize:   c.MaxTagSize,
			RateLimit:    c.RateLimit,
			RateBurst:    c.RateBurst,
		},
		Logger: c.Logger(),
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "cellchain".
// When LogFile is set, a file hook receives every level.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: c.LogFile,
					logrus.InfoLevel:  c.LogFile,
					logrus.WarnLevel:  c.LogFile,
					logrus.ErrorLevel: c.LogFile,
				},
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "cellchain")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Cellchain")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Cellchain")
		} else {
			return filepath.Join(home, ".cellchain")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
