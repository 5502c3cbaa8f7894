// Package p2p announces sealed blocks over libp2p gossipsub. Announcement
// only: consensus stays with the local chain, peers are expected to fetch and
// validate via the REST surface before adopting anything.
package p2p

import (
	"context"
	"encoding/json"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/qorca/qorca/pkg/ledger"
)

const topicBlocks = "qorca/blocks/1.0.0"

// BlockAnnouncement is the gossip wire form of a sealed block header.
type BlockAnnouncement struct {
	Index      int    `json:"index"`
	Hash       string `json:"hash"`
	PrevHash   string `json:"previous_hash"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  int64  `json:"timestamp"`
	TxCount    int    `json:"tx_count"`
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// Gossip implements ledger.PeerNotifier over gossipsub.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	ctx context.Context

	// OnAnnouncement, if set, receives announcements from other peers.
	OnAnnouncement func(a BlockAnnouncement)
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	g := &Gossip{h: h, ps: ps, log: cfg.Logger, ctx: ctx}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if g.topic, err = ps.Join(topicBlocks); err != nil {
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		return nil, err
	}
	go g.readLoop(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// BlockSealed implements ledger.PeerNotifier.
func (g *Gossip) BlockSealed(b ledger.Block) {
	ann := BlockAnnouncement{
		Index:      b.Index,
		Hash:       b.Hash,
		PrevHash:   b.PrevHash,
		MerkleRoot: b.MerkleRoot,
		Timestamp:  b.Timestamp,
		TxCount:    len(b.Transactions),
	}
	data, err := json.Marshal(ann)
	if err != nil {
		return
	}
	if err := g.topic.Publish(g.ctx, data); err != nil && g.log != nil {
		g.log.Warnw("block_announce_failed", "index", b.Index, "err", err)
	}
}

func (g *Gossip) readLoop(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return // subscription closed or context cancelled
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		var ann BlockAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			if g.log != nil {
				g.log.Warnw("bad_block_announcement", "from", msg.ReceivedFrom.String(), "err", err)
			}
			continue
		}
		if g.log != nil {
			g.log.Infow("block_announced", "from", msg.ReceivedFrom.String(), "index", ann.Index, "hash", ann.Hash)
		}
		if g.OnAnnouncement != nil {
			g.OnAnnouncement(ann)
		}
	}
}

func (g *Gossip) Close() error {
	g.sub.Cancel()
	return g.h.Close()
}
