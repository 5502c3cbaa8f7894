package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Chain struct {
	Difficulty   int
	MaxBlockTxs  int
	MaxPoWIters  uint64 // 0 = unbounded
	RewardAmount float64
	MinerAddress string
}

type Market struct {
	Cadence              time.Duration
	SnapshotDepth        int
	TradeWindow          int
	ImbalanceThreshold   float64
	ClearingHouse        string
	ContingencyRecipient string
	MinVolume            float64
	MaxSpreadRatio       float64
}

type Node struct {
	APIAddr string
	LogFile string
	// DataDir enables pebble persistence when non-empty.
	DataDir string
	// GossipListen enables the libp2p announcer when non-empty.
	GossipListen    string
	GossipBootstrap []string
	// Participants registered at startup.
	Participants []string
	// DemoChannel names a pair whose channel is established eagerly at boot;
	// empty disables it.
	DemoChannel []string
}

type Config struct {
	Chain  Chain
	Market Market
	Node   Node
}

func Default() Config {
	return Config{
		Chain: Chain{
			Difficulty:   2,
			MaxBlockTxs:  5,
			RewardAmount: 10,
			MinerAddress: "miner_address",
		},
		Market: Market{
			Cadence:              300 * time.Millisecond,
			SnapshotDepth:        10,
			TradeWindow:          100,
			ImbalanceThreshold:   1.5,
			ClearingHouse:        "GridClearingHouse",
			ContingencyRecipient: "CommunityDAO",
			MinVolume:            100_000,
			MaxSpreadRatio:       0.01,
		},
		Node: Node{
			APIAddr: ":8080",
			LogFile: "data/node.log",
			Participants: []string{
				"GridClearingHouse",
				"CommunityDAO",
				"Alice",
				"Bob",
			},
			DemoChannel: []string{"Alice", "Bob"},
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_DIFFICULTY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.Difficulty = n
		}
	}
	if v := os.Getenv("CHAIN_MAX_BLOCK_TXS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.MaxBlockTxs = n
		}
	}
	if v := os.Getenv("CHAIN_POW_MAX_ITERS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Chain.MaxPoWIters = n
		}
	}
	if v := os.Getenv("CHAIN_REWARD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Chain.RewardAmount = f
		}
	}
	cfg.Chain.MinerAddress = getEnv("MINER_ADDRESS", cfg.Chain.MinerAddress)

	if v := os.Getenv("MARKET_CADENCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Market.Cadence = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MARKET_IMBALANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Market.ImbalanceThreshold = f
		}
	}
	cfg.Market.ClearingHouse = getEnv("MARKET_CLEARING_HOUSE", cfg.Market.ClearingHouse)
	cfg.Market.ContingencyRecipient = getEnv("MARKET_CONTINGENCY_RECIPIENT", cfg.Market.ContingencyRecipient)

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.GossipListen = getEnv("GOSSIP_LISTEN", cfg.Node.GossipListen)
	if v := os.Getenv("GOSSIP_BOOTSTRAP"); v != "" {
		cfg.Node.GossipBootstrap = strings.Split(v, ",")
	}
	if v := os.Getenv("PARTICIPANTS"); v != "" {
		cfg.Node.Participants = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("DEMO_CHANNEL"); ok {
		if v == "" {
			cfg.Node.DemoChannel = nil
		} else {
			cfg.Node.DemoChannel = strings.Split(v, ",")
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
