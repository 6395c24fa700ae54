// Command openswarm-node runs one Open Swarm Protocol peer: it joins the
// mesh, participates in elections and consensus, and serves the local
// JSON-RPC endpoint for AI agents.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 keypair I/O error,
// 3 irrecoverable transport bind failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ssd-technologies/openswarm/internal/config"
	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/rpc"
	"github.com/ssd-technologies/openswarm/internal/state"
	"github.com/ssd-technologies/openswarm/internal/storage"
	"github.com/ssd-technologies/openswarm/internal/swarm"
)

const (
	exitOK        = 0
	exitConfig    = 1
	exitKeypair   = 2
	exitTransport = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("openswarm-node", flag.ContinueOnError)
	configPath := fs.String("config", "openswarm.yaml", "path to the YAML configuration file")
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitConfig
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration: %v\n", err)
		return exitConfig
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: logger: %v\n", err)
		return exitConfig
	}
	defer log.Sync() //nolint:errcheck

	identity, err := protocol.LoadOrGenerateIdentity(resolvePath(cfg.DataDir, cfg.KeyFile))
	if err != nil {
		log.Error("load identity", zap.Error(err))
		return exitKeypair
	}
	log.Info("identity loaded", zap.String("agent_id", string(identity.AgentID)))

	db, err := storage.Open(filepath.Join(cfg.DataDir, "openswarm.db"))
	if err != nil {
		log.Error("open content store", zap.Error(err))
		return exitKeypair
	}
	defer db.Close()

	node := swarm.NewNode(identity, swarm.Config{
		SwarmID:             cfg.SwarmID,
		SwarmToken:          cfg.SwarmToken,
		AgentName:           cfg.AgentName,
		Capabilities:        cfg.Capabilities,
		BranchingFactor:     cfg.BranchingFactor,
		EpochDuration:       time.Duration(cfg.EpochDurationSecs) * time.Second,
		KeepaliveInterval:   time.Duration(cfg.KeepaliveIntervalSecs) * time.Second,
		LeaderTimeout:       time.Duration(cfg.LeaderTimeoutSecs) * time.Second,
		CommitRevealTimeout: time.Duration(cfg.CommitRevealTimeoutSecs) * time.Second,
		VotingTimeout:       time.Duration(cfg.VotingTimeoutSecs) * time.Second,
		PoWDifficulty:       cfg.PoWDifficulty,
		MaxHierarchyDepth:   cfg.MaxHierarchyDepth,
		ListenAddr:          cfg.ListenAddr,
		BootstrapPeers:      cfg.BootstrapPeers,
	}, state.NewContentStore(db, identity.AgentID), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		log.Error("transport bind", zap.Error(err))
		return exitTransport
	}
	defer node.Close()

	server := rpc.NewServer(node, log)
	if err := server.Listen(ctx, cfg.RPCBindAddr); err != nil {
		log.Error("rpc bind", zap.Error(err))
		return exitTransport
	}

	<-ctx.Done()
	log.Info("shutting down")
	return exitOK
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func resolvePath(dataDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}
