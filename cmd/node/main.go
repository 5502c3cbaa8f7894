package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/qorca/qorca/params"
	"github.com/qorca/qorca/pkg/api"
	"github.com/qorca/qorca/pkg/book"
	"github.com/qorca/qorca/pkg/engine"
	"github.com/qorca/qorca/pkg/ledger"
	"github.com/qorca/qorca/pkg/p2p"
	"github.com/qorca/qorca/pkg/storage"
	"github.com/qorca/qorca/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Ledger ----
	chain, err := ledger.NewChain(ledger.Config{
		Difficulty:   cfg.Chain.Difficulty,
		MaxBlockTxs:  cfg.Chain.MaxBlockTxs,
		MaxPoWIters:  cfg.Chain.MaxPoWIters,
		RewardAmount: cfg.Chain.RewardAmount,
		MinerAddress: cfg.Chain.MinerAddress,
	}, sugar)
	if err != nil {
		sugar.Fatalw("chain_init_failed", "err", err)
	}

	for _, label := range cfg.Node.Participants {
		p, err := chain.RegisterParticipant(label)
		if err != nil {
			sugar.Fatalw("participant_registration_failed", "label", label, "err", err)
		}
		sugar.Infow("participant_registered", "label", p.Label, "address", p.Address)
	}

	if pair := cfg.Node.DemoChannel; len(pair) == 2 {
		ch, err := chain.EstablishChannel(pair[0], pair[1])
		if err != nil {
			sugar.Fatalw("demo_channel_failed", "pair", pair, "err", err)
		}
		sugar.Infow("demo_channel_ready", "channel_id", ch.ID, "participants", ch.Participants)
	}

	// ---- Persistence (optional) ----
	if cfg.Node.DataDir != "" {
		store, err := storage.NewChainStore(cfg.Node.DataDir)
		if err != nil {
			sugar.Fatalw("chain_store_failed", "err", err)
		}
		defer store.Close()

		blocks, err := store.Load()
		if err != nil {
			sugar.Fatalw("chain_load_failed", "err", err)
		}
		if len(blocks) > 0 {
			if err := chain.AdoptChain(blocks); err != nil {
				// All-or-nothing: keep the fresh chain and re-persist from genesis.
				sugar.Warnw("stored_chain_rejected", "err", err, "height", len(blocks))
			} else {
				sugar.Infow("chain_loaded", "height", len(blocks))
			}
		}
		if err := store.SaveChain(chain.Blocks()); err != nil {
			sugar.Fatalw("chain_save_failed", "err", err)
		}
		chain.OnBlockSealed(func(b ledger.Block) {
			if err := store.AppendBlock(b); err != nil {
				sugar.Errorw("block_persist_failed", "index", b.Index, "err", err)
			}
		})
	}

	// ---- Gossip (optional) ----
	if cfg.Node.GossipListen != "" {
		gossip, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.Node.GossipListen,
			Bootstrap:  cfg.Node.GossipBootstrap,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("gossip_init_failed", "err", err)
		}
		defer gossip.Close()
		chain.SetNotifier(gossip)
	}

	// ---- Trading engine ----
	eng := engine.New(engine.Config{
		Cadence:              cfg.Market.Cadence,
		SnapshotDepth:        cfg.Market.SnapshotDepth,
		TradeWindow:          cfg.Market.TradeWindow,
		ImbalanceThreshold:   cfg.Market.ImbalanceThreshold,
		ClearingHouse:        cfg.Market.ClearingHouse,
		ContingencyRecipient: cfg.Market.ContingencyRecipient,
		Liquidity: book.LiquidityParams{
			MinVolume:      cfg.Market.MinVolume,
			MaxSpreadRatio: cfg.Market.MaxSpreadRatio,
		},
	}, chain, util.RealClock{}, sugar)

	if v := os.Getenv("IMBALANCE_SIGNAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			eng.SetImbalanceSource(func() float64 { return f })
			sugar.Infow("imbalance_signal_fixed", "value", f)
		}
	}

	// ---- API ----
	server := api.NewServer(eng, sugar)
	eng.SetNotifier(server)
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"difficulty", cfg.Chain.Difficulty,
		"cadence", cfg.Market.Cadence,
		"participants", len(cfg.Node.Participants))

	eng.Run(ctx)
}
