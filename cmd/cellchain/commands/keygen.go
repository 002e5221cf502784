package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"

	"github.com/mosaicnetworks/cellchain/src/config"
	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/spf13/cobra"
)

var (
	privKeyFile           string
	pubKeyFile            string
	defaultPrivateKeyFile = filepath.Join(_config.Node.DataDir, config.DefaultKeyfile)
	defaultPublicKeyFile  = filepath.Join(_config.Node.DataDir, "key.pub")
)

// NewKeygenCmd produces a KeygenCmd which create a key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new agent key pair",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

// AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&privKeyFile, "priv", defaultPrivateKeyFile, "File where the private key will be written")
	cmd.Flags().StringVar(&pubKeyFile, "pub", defaultPublicKeyFile, "File where the agent key will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(privKeyFile); err == nil {
		return fmt.Errorf("A key already lives under: %s", path.Dir(privKeyFile))
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("Error generating Ed25519 key: %v", err)
	}

	if err := os.MkdirAll(path.Dir(privKeyFile), 0700); err != nil {
		return fmt.Errorf("Writing private key: %s", err)
	}

	if err := keys.NewSimpleKeyfile(privKeyFile).WriteKey(priv); err != nil {
		return fmt.Errorf("Writing private key: %s", err)
	}

	fmt.Printf("Your private key has been saved to: %s\n", privKeyFile)

	agent, err := hh.FromAgentKey(pub)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path.Dir(pubKeyFile), 0700); err != nil {
		return fmt.Errorf("Writing agent key: %s", err)
	}

	if err := ioutil.WriteFile(pubKeyFile, []byte(agent.String()), 0600); err != nil {
		return fmt.Errorf("Writing agent key: %s", err)
	}

	fmt.Printf("Your agent key %s has been saved to: %s\n", agent, pubKeyFile)

	return nil
}
