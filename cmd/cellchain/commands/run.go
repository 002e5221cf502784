package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/conductor"
	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/net"
	"github.com/mosaicnetworks/cellchain/src/peers"
	"github.com/mosaicnetworks/cellchain/src/service"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRunCmd returns the command that starts a cellchain node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNode(cmd *cobra.Command, args []string) error {
	logger := _config.Node.Logger()

	if len(_config.Node.DnaFiles) == 0 {
		return fmt.Errorf("no dna manifest given, use --dna")
	}

	key, err := keys.NewSimpleKeyfile(_config.Node.Keyfile()).ReadKey()
	if err != nil {
		return fmt.Errorf("reading agent key (cf. cellchain keygen): %v", err)
	}
	keystore := keys.NewMemKeystore()
	agent, err := hh.FromAgentKey(keystore.AddSignKey(key))
	if err != nil {
		return err
	}

	conf := _config.Node.Conductor()
	ps, err := loadPeers(_config.Node.DataDir, logger)
	if err != nil {
		return err
	}
	conf.Peers = ps

	trans, err := net.NewTCPTransport(
		_config.Node.BindAddr,
		_config.Node.AdvertiseAddr,
		_config.Node.MaxPool,
		_config.Node.TCPTimeout,
		logger,
	)
	if err != nil {
		return err
	}

	var ribosomes []guest.Ribosome
	for _, f := range _config.Node.DnaFiles {
		def, err := types.LoadDnaManifest(f)
		if err != nil {
			return fmt.Errorf("loading %s: %v", f, err)
		}
		ribosomes = append(ribosomes, guest.NewManifestRibosome(def))
	}

	proof, err := membraneProof(_config.MembraneProof)
	if err != nil {
		return err
	}

	c := conductor.New(conf, keystore, trans)
	c.Start()

	info, err := c.InstallApp(_config.AppID, agent, proof, ribosomes...)
	if err != nil {
		c.Shutdown(context.Background())
		return err
	}
	if err := c.EnableApp(info.ID); err != nil {
		c.Shutdown(context.Background())
		return err
	}
	for _, id := range info.Cells {
		logger.WithFields(logrus.Fields{
			"dna":   id.Dna.String(),
			"agent": id.Agent.String(),
		}).Info("Cell running")
	}

	if !_config.Node.NoService {
		srv := service.NewService(_config.Node.ServiceAddr, c, logger)
		go srv.Serve()
	}

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 2*_config.Node.ShutdownGrace)
	defer cancel()
	return c.Shutdown(ctx)
}

// membraneProof accepts 0X prefixed hex or plain text.
func membraneProof(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return common.DecodeFromString(s)
	}
	return []byte(s), nil
}

// loadPeers reads peers.json from the data directory. A missing file means
// no bootstrap peers.
func loadPeers(dataDir string, logger *logrus.Entry) ([]*peers.Peer, error) {
	ps, err := peers.NewJSONPeerSet(dataDir).PeerSet()
	if os.IsNotExist(err) {
		logger.Debug("No peers.json, starting without peers")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ps.Peers, nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Node.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Node.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Node.LogFile, "Also write the log to this file")
	cmd.Flags().String("moniker", _config.Node.Moniker, "Optional name")

	// App
	cmd.Flags().StringSlice("dna", _config.Node.DnaFiles, "dna.yaml manifests to install")
	cmd.Flags().String("app-id", _config.AppID, "Id of the installed app")
	cmd.Flags().String("membrane-proof", _config.MembraneProof, "Membrane proof written at genesis")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Node.BindAddr, "Listen IP:Port for cellchain node")
	cmd.Flags().StringP("advertise", "a", _config.Node.AdvertiseAddr, "Advertise IP:Port for cellchain node")
	cmd.Flags().DurationP("timeout", "t", _config.Node.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.Node.MaxPool, "Connection pool size max")
	cmd.Flags().Int("redundancy", _config.Node.Redundancy, "Number of authorities per basis")

	// Service
	cmd.Flags().Bool("no-service", _config.Node.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Node.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Node.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.Node.DatabaseDir, "Dabatabase directory")

	// Workflows
	cmd.Flags().Int("required-receipts", _config.Node.RequiredReceipts, "Receipts after which an op is no longer published")
	cmd.Flags().Duration("min-publish-interval", _config.Node.MinPublishInterval, "Least time between two publishes of an op")
	cmd.Flags().Duration("publish-tick", _config.Node.PublishTick, "Time between publish runs")
	cmd.Flags().Duration("retry-tick", _config.Node.RetryTick, "Time between retries of parked ops")
	cmd.Flags().Duration("zome-call-timeout", _config.Node.ZomeCallTimeout, "Zome call timeout")
	cmd.Flags().Float64("rate-limit", _config.Node.RateLimit, "Ops per second accepted from one author, 0 to disable")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Node.SetDataDir(_config.Node.DataDir)

	logFields := logrus.Fields{
		"DataDir":          _config.Node.DataDir,
		"BindAddr":         _config.Node.BindAddr,
		"AdvertiseAddr":    _config.Node.AdvertiseAddr,
		"ServiceAddr":      _config.Node.ServiceAddr,
		"NoService":        _config.Node.NoService,
		"MaxPool":          _config.Node.MaxPool,
		"Store":            _config.Node.Store,
		"LogLevel":         _config.Node.LogLevel,
		"Moniker":          _config.Node.Moniker,
		"TCPTimeout":       _config.Node.TCPTimeout,
		"Redundancy":       _config.Node.Redundancy,
		"RequiredReceipts": _config.Node.RequiredReceipts,
		"DnaFiles":         _config.Node.DnaFiles,
		"AppID":            _config.AppID,
	}

	if _config.Node.Store {
		logFields["DatabaseDir"] = _config.Node.DatabaseDir
	}

	_config.Node.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/cellchain.toml (.json, .yaml also work)
	viper.SetConfigName("cellchain")          // name of config file (without extension)
	viper.AddConfigPath(_config.Node.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Node.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Node.Logger().Debugf("No config file found in: %s", _config.Node.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
