package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

// RootCmd is the root command for cellchain
var RootCmd = &cobra.Command{
	Use:              "cellchain",
	Short:            "agent-centric source chains over a validating DHT",
	TraverseChildren: true,
}
