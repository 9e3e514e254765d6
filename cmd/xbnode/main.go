package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xbchain/config"
	"xbchain/core/state"
	"xbchain/native/assets"
	"xbchain/native/bridge"
	"xbchain/observability/logging"
	"xbchain/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup("xbnode", cfg.Environment)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chaindata"))
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	params := networkParams(cfg.BitcoinNetwork)
	manager := state.NewManager(db)
	module := bridge.NewModule(manager)
	module.SetLogger(logger)
	module.SetAddressValidator(bridge.NewBitcoinAddressValidator(params))

	if _, _, err := module.HeaderStore().GenesisInfo(); err != nil {
		genesis := params.GenesisBlock.Header
		if err := module.InitGenesis(&genesis, 0, cfg.ConfirmationDepth, cfg.ReservedWindow); err != nil {
			logger.Error("failed to initialize header store", "err", err)
			os.Exit(1)
		}
		if err := module.Assets().RegisterAsset(assets.Asset{
			Token:    "BTC",
			Name:     "Bridged Bitcoin",
			Chain:    assets.ChainBitcoin,
			Decimals: 8,
		}); err != nil {
			logger.Error("failed to register bridged asset", "err", err)
			os.Exit(1)
		}
		if err := manager.Commit(); err != nil {
			logger.Error("failed to commit genesis state", "err", err)
			os.Exit(1)
		}
		logger.Info("initialized bridge genesis",
			"network", cfg.BitcoinNetwork,
			"confirmations", cfg.ConfirmationDepth,
			"reserved_window", cfg.ReservedWindow)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics listening", "addr", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	logger.Info("bridge settlement core ready", "datadir", cfg.DataDir)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}

func networkParams(name string) *chaincfg.Params {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "simnet":
		return &chaincfg.SimNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
