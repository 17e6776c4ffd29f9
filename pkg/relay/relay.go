package relay

import (
	"context"
	"encoding/json"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/qzavyer/HyperNodeServer/pkg/order"
)

// Relay gossips changed orders to peer watchers over libp2p pubsub. Delivery
// is best-effort: a publish failure is logged and the batch moves on, the
// same contract the websocket hub gives local subscribers.
type Relay struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	ctx   context.Context
	log   *zap.SugaredLogger
}

type Config struct {
	ListenAddr string // multiaddr to listen on
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

func New(ctx context.Context, cfg Config) (*Relay, error) {
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
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		h.Close()
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Infow("relay_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	}
	return &Relay{h: h, ps: ps, topic: topic, ctx: ctx, log: cfg.Logger}, nil
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

// PublishOrders implements order.Publisher.
func (r *Relay) PublishOrders(orders []order.Order) {
	data, err := json.Marshal(orders)
	if err != nil {
		if r.log != nil {
			r.log.Errorw("relay_marshal_failed", "err", err)
		}
		return
	}
	if err := r.topic.Publish(r.ctx, data); err != nil && r.log != nil {
		r.log.Warnw("relay_publish_failed", "err", err)
	}
}

func (r *Relay) Close() error {
	r.topic.Close()
	return r.h.Close()
}
