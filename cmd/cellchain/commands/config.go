package commands

import (
	"github.com/mosaicnetworks/cellchain/src/config"
)

// CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Node          config.Config `mapstructure:",squash"`
	AppID         string        `mapstructure:"app-id"`
	MembraneProof string        `mapstructure:"membrane-proof"`
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Node:  *config.NewDefaultConfig(),
		AppID: "main",
	}
}
