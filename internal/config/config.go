// Package config loads the daemon configuration with layered precedence:
// command-line flags > environment variables (OPENSWARM_ prefix) > YAML
// configuration file > built-in defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// Config is the full daemon configuration.
type Config struct {
	BranchingFactor         int      `yaml:"branching_factor"`
	EpochDurationSecs       uint64   `yaml:"epoch_duration_secs"`
	KeepaliveIntervalSecs   uint64   `yaml:"keepalive_interval_secs"`
	LeaderTimeoutSecs       uint64   `yaml:"leader_timeout_secs"`
	CommitRevealTimeoutSecs uint64   `yaml:"commit_reveal_timeout_secs"`
	VotingTimeoutSecs       uint64   `yaml:"voting_timeout_secs"`
	PoWDifficulty           int      `yaml:"pow_difficulty"`
	MaxHierarchyDepth       int      `yaml:"max_hierarchy_depth"`
	RPCBindAddr             string   `yaml:"rpc_bind_addr"`
	ListenAddr              string   `yaml:"listen_addr"`
	BootstrapPeers          []string `yaml:"bootstrap_peers"`
	MdnsEnabled             bool     `yaml:"mdns_enabled"`
	SwarmID                 string   `yaml:"swarm_id"`
	SwarmToken              string   `yaml:"swarm_token"`
	AgentName               string   `yaml:"agent_name"`
	Capabilities            []string `yaml:"capabilities"`
	LogLevel                string   `yaml:"log_level"`
	KeyFile                 string   `yaml:"key_file"`
	DataDir                 string   `yaml:"data_dir"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		BranchingFactor:         protocol.DefaultBranchingFactor,
		EpochDurationSecs:       protocol.DefaultEpochDurationSecs,
		KeepaliveIntervalSecs:   protocol.DefaultKeepaliveIntervalSecs,
		LeaderTimeoutSecs:       protocol.DefaultLeaderTimeoutSecs,
		CommitRevealTimeoutSecs: protocol.DefaultCommitRevealTimeoutSecs,
		VotingTimeoutSecs:       protocol.DefaultVotingTimeoutSecs,
		PoWDifficulty:           protocol.DefaultPoWDifficulty,
		MaxHierarchyDepth:       protocol.DefaultMaxHierarchyDepth,
		RPCBindAddr:             "127.0.0.1:9370",
		ListenAddr:              "127.0.0.1:0",
		MdnsEnabled:             true,
		SwarmID:                 protocol.DefaultSwarmID,
		AgentName:               "agent",
		LogLevel:                "info",
		KeyFile:                 "identity.key",
		DataDir:                 ".",
	}
}

// Load resolves the configuration: defaults, then the YAML file at path (if
// any), then OPENSWARM_* environment variables, then the given flag set.
// The flag set must have been registered via RegisterFlags and parsed.
func Load(path string, fs *flag.FlagSet) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	if err := loadEnv(&cfg); err != nil {
		return cfg, err
	}
	if fs != nil {
		applyFlags(&cfg, fs)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.BranchingFactor < 2 {
		return fmt.Errorf("branching_factor must be at least 2, got %d", c.BranchingFactor)
	}
	if c.EpochDurationSecs == 0 {
		return fmt.Errorf("epoch_duration_secs must be positive")
	}
	if c.MaxHierarchyDepth < 1 {
		return fmt.Errorf("max_hierarchy_depth must be at least 1, got %d", c.MaxHierarchyDepth)
	}
	if c.RPCBindAddr == "" {
		return fmt.Errorf("rpc_bind_addr must be set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // a missing file falls through to defaults
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// envPrefix is the environment variable namespace.
const envPrefix = "OPENSWARM_"

func loadEnv(cfg *Config) error {
	lookups := []struct {
		key string
		set func(string) error
	}{
		{"BRANCHING_FACTOR", intSetter(&cfg.BranchingFactor)},
		{"EPOCH_DURATION_SECS", uintSetter(&cfg.EpochDurationSecs)},
		{"KEEPALIVE_INTERVAL_SECS", uintSetter(&cfg.KeepaliveIntervalSecs)},
		{"LEADER_TIMEOUT_SECS", uintSetter(&cfg.LeaderTimeoutSecs)},
		{"COMMIT_REVEAL_TIMEOUT_SECS", uintSetter(&cfg.CommitRevealTimeoutSecs)},
		{"VOTING_TIMEOUT_SECS", uintSetter(&cfg.VotingTimeoutSecs)},
		{"POW_DIFFICULTY", intSetter(&cfg.PoWDifficulty)},
		{"MAX_HIERARCHY_DEPTH", intSetter(&cfg.MaxHierarchyDepth)},
		{"RPC_BIND_ADDR", stringSetter(&cfg.RPCBindAddr)},
		{"LISTEN_ADDR", stringSetter(&cfg.ListenAddr)},
		{"BOOTSTRAP_PEERS", listSetter(&cfg.BootstrapPeers)},
		{"MDNS_ENABLED", boolSetter(&cfg.MdnsEnabled)},
		{"SWARM_ID", stringSetter(&cfg.SwarmID)},
		{"SWARM_TOKEN", stringSetter(&cfg.SwarmToken)},
		{"AGENT_NAME", stringSetter(&cfg.AgentName)},
		{"CAPABILITIES", listSetter(&cfg.Capabilities)},
		{"LOG_LEVEL", stringSetter(&cfg.LogLevel)},
		{"KEY_FILE", stringSetter(&cfg.KeyFile)},
		{"DATA_DIR", stringSetter(&cfg.DataDir)},
	}
	for _, l := range lookups {
		value, ok := os.LookupEnv(envPrefix + l.key)
		if !ok {
			continue
		}
		if err := l.set(value); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, l.key, err)
		}
	}
	return nil
}

func intSetter(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func uintSetter(dst *uint64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func stringSetter(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func listSetter(dst *[]string) func(string) error {
	return func(s string) error {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dst = out
		return nil
	}
}

// flagValues holds the registered flag destinations until applyFlags copies
// the ones the user actually set.
type flagValues struct {
	branchingFactor int
	epochDuration   uint64
	keepalive       uint64
	leaderTimeout   uint64
	commitReveal    uint64
	votingTimeout   uint64
	powDifficulty   int
	maxDepth        int
	rpcBindAddr     string
	listenAddr      string
	bootstrapPeers  string
	mdns            bool
	swarmID         string
	swarmToken      string
	agentName       string
	capabilities    string
	logLevel        string
	keyFile         string
	dataDir         string
}

var registered = map[*flag.FlagSet]*flagValues{}

// RegisterFlags declares every configuration flag on fs. Call before
// fs.Parse; flags the user sets override file and environment values.
func RegisterFlags(fs *flag.FlagSet) {
	v := &flagValues{}
	registered[fs] = v
	fs.IntVar(&v.branchingFactor, "branching-factor", 0, "hierarchy branching factor (k)")
	fs.Uint64Var(&v.epochDuration, "epoch-duration-secs", 0, "epoch duration in seconds")
	fs.Uint64Var(&v.keepalive, "keepalive-interval-secs", 0, "leader keep-alive interval in seconds")
	fs.Uint64Var(&v.leaderTimeout, "leader-timeout-secs", 0, "leader failover timeout in seconds")
	fs.Uint64Var(&v.commitReveal, "commit-reveal-timeout-secs", 0, "commit-reveal window in seconds")
	fs.Uint64Var(&v.votingTimeout, "voting-timeout-secs", 0, "voting window in seconds")
	fs.IntVar(&v.powDifficulty, "pow-difficulty", 0, "handshake proof-of-work difficulty in bits")
	fs.IntVar(&v.maxDepth, "max-hierarchy-depth", 0, "maximum hierarchy depth")
	fs.StringVar(&v.rpcBindAddr, "rpc-bind-addr", "", "local JSON-RPC bind address")
	fs.StringVar(&v.listenAddr, "listen-addr", "", "peer transport listen address")
	fs.StringVar(&v.bootstrapPeers, "bootstrap-peers", "", "comma-separated bootstrap peer addresses")
	fs.BoolVar(&v.mdns, "mdns", true, "enable local peer discovery")
	fs.StringVar(&v.swarmID, "swarm-id", "", "swarm to join")
	fs.StringVar(&v.swarmToken, "swarm-token", "", "join token for a private swarm")
	fs.StringVar(&v.agentName, "agent-name", "", "display name for the local agent")
	fs.StringVar(&v.capabilities, "capabilities", "", "comma-separated agent capabilities")
	fs.StringVar(&v.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&v.keyFile, "key-file", "", "path to the identity seed file")
	fs.StringVar(&v.dataDir, "data-dir", "", "directory for the content store database")
}

func applyFlags(cfg *Config, fs *flag.FlagSet) {
	v, ok := registered[fs]
	if !ok {
		return
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["branching-factor"] {
		cfg.BranchingFactor = v.branchingFactor
	}
	if set["epoch-duration-secs"] {
		cfg.EpochDurationSecs = v.epochDuration
	}
	if set["keepalive-interval-secs"] {
		cfg.KeepaliveIntervalSecs = v.keepalive
	}
	if set["leader-timeout-secs"] {
		cfg.LeaderTimeoutSecs = v.leaderTimeout
	}
	if set["commit-reveal-timeout-secs"] {
		cfg.CommitRevealTimeoutSecs = v.commitReveal
	}
	if set["voting-timeout-secs"] {
		cfg.VotingTimeoutSecs = v.votingTimeout
	}
	if set["pow-difficulty"] {
		cfg.PoWDifficulty = v.powDifficulty
	}
	if set["max-hierarchy-depth"] {
		cfg.MaxHierarchyDepth = v.maxDepth
	}
	if set["rpc-bind-addr"] {
		cfg.RPCBindAddr = v.rpcBindAddr
	}
	if set["listen-addr"] {
		cfg.ListenAddr = v.listenAddr
	}
	if set["bootstrap-peers"] {
		listSetter(&cfg.BootstrapPeers)(v.bootstrapPeers) //nolint:errcheck
	}
	if set["mdns"] {
		cfg.MdnsEnabled = v.mdns
	}
	if set["swarm-id"] {
		cfg.SwarmID = v.swarmID
	}
	if set["swarm-token"] {
		cfg.SwarmToken = v.swarmToken
	}
	if set["agent-name"] {
		cfg.AgentName = v.agentName
	}
	if set["capabilities"] {
		listSetter(&cfg.Capabilities)(v.capabilities) //nolint:errcheck
	}
	if set["log-level"] {
		cfg.LogLevel = v.logLevel
	}
	if set["key-file"] {
		cfg.KeyFile = v.keyFile
	}
	if set["data-dir"] {
		cfg.DataDir = v.dataDir
	}
}
