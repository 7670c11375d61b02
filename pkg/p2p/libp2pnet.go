package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

const (
	topicEvents     = "hyperswap/events/1"
	protocolHistory = protocol.ID("/hyperswap/history/1.0.0")

	outboxSize      = 1024
	maxHistoryBatch = 1000
	historyTimeout  = 10 * time.Second
)

// History serves journaled events to peers catching up
type History interface {
	LoadEvents(after uint64, pairID pair.ID, limit int) ([]events.Envelope, error)
}

// Received is an attested event delivered by a peer
type Received struct {
	From     peer.ID
	PubKey   []byte
	Envelope events.Envelope
}

// Gossip publishes engine events to peers and delivers the events peers
// publish. It is an events.Sink.
type Gossip struct {
	h      host.Host
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	signer *crypto.BLSSigner
	log    *zap.SugaredLogger

	trusted map[string]bool
	history History

	outbox chan events.Envelope

	muH     sync.RWMutex
	handler func(Received)
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Signer     *crypto.BLSSigner
	// Trusted restricts accepted publishers to these BLS public keys; empty
	// accepts any correctly signed event
	Trusted [][]byte
	History History
	Logger  *zap.SugaredLogger
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	if cfg.Signer == nil {
		return nil, errors.New("p2p: signer is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

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

	g := &Gossip{
		h: h, ps: ps, signer: cfg.Signer, log: log,
		trusted: make(map[string]bool, len(cfg.Trusted)),
		history: cfg.History,
		outbox:  make(chan events.Envelope, outboxSize),
	}
	for _, pk := range cfg.Trusted {
		g.trusted[string(pk)] = true
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if g.topic, err = ps.Join(topicEvents); err != nil {
		h.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	if g.history != nil {
		h.SetStreamHandler(protocolHistory, g.handleHistoryStream)
	}

	go g.publishLoop(ctx)
	go g.receiveLoop(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
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

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns the dialable multiaddrs of this node including its peer id
func (g *Gossip) Addrs() []string {
	suffix, err := ma.NewMultiaddr("/p2p/" + g.h.ID().String())
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, a.Encapsulate(suffix).String())
	}
	return out
}

// Connect dials a peer given as a /p2p multiaddr
func (g *Gossip) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, g.h, addr)
}

// OnEvent registers the handler for events received from peers
func (g *Gossip) OnEvent(fn func(Received)) { g.muH.Lock(); g.handler = fn; g.muH.Unlock() }

// Handle queues env for publication. Events are dropped when the outbox is
// full.
func (g *Gossip) Handle(env events.Envelope) {
	select {
	case g.outbox <- env:
	default:
		g.log.Warnw("event_gossip_dropped", "seq", env.Seq, "kind", env.Kind)
	}
}

func (g *Gossip) Close() error {
	g.sub.Cancel()
	if err := g.topic.Close(); err != nil {
		g.log.Debugw("topic_close_failed", "err", err)
	}
	return g.h.Close()
}

func (g *Gossip) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-g.outbox:
			if err := g.publish(ctx, env); err != nil {
				g.log.Warnw("event_gossip_failed", "seq", env.Seq, "err", err)
			}
		}
	}
}

func (g *Gossip) publish(ctx context.Context, env events.Envelope) error {
	w, err := attest(g.signer, env)
	if err != nil {
		return err
	}
	data, err := gobEncode(w)
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

// inbound

func (g *Gossip) receiveLoop(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == g.h.ID() {
			continue
		}
		var w EventWire
		if err := gobDecode(msg.Data, &w); err != nil {
			g.log.Debugw("event_gossip_malformed", "from", msg.GetFrom().String(), "err", err)
			continue
		}
		env, err := w.open(g.trusted)
		if err != nil {
			g.log.Warnw("event_gossip_rejected", "from", msg.GetFrom().String(), "err", err)
			continue
		}
		g.log.Debugw("event_gossip_received",
			"from", msg.GetFrom().String(),
			"seq", env.Seq,
			"kind", env.Kind,
			"pair_id", env.PairID)

		g.muH.RLock()
		fn := g.handler
		g.muH.RUnlock()
		if fn != nil {
			fn(Received{From: msg.GetFrom(), PubKey: w.PubKey, Envelope: env})
		}
	}
}

// handleHistoryStream answers one HistoryRequest per stream
func (g *Gossip) handleHistoryStream(s network.Stream) {
	defer s.Close()
	s.SetDeadline(time.Now().Add(historyTimeout))

	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	var req HistoryRequest
	if err := gobDecode(data, &req); err != nil {
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > maxHistoryBatch {
		limit = maxHistoryBatch
	}
	envs, err := g.history.LoadEvents(req.After, 0, limit)
	if err != nil {
		g.log.Warnw("history_load_failed", "after", req.After, "err", err)
		return
	}

	resp := HistoryWire{Events: make([]EventWire, 0, len(envs))}
	for _, env := range envs {
		w, err := attest(g.signer, env)
		if err != nil {
			return
		}
		resp.Events = append(resp.Events, w)
	}
	out, err := gobEncode(resp)
	if err != nil {
		return
	}
	if _, err := s.Write(out); err != nil {
		g.log.Debugw("history_write_failed", "peer", s.Conn().RemotePeer().String(), "err", err)
	}
}

// FetchHistory asks p for up to limit journaled events after seq
func (g *Gossip) FetchHistory(ctx context.Context, p peer.ID, after uint64, limit int) ([]events.Envelope, error) {
	s, err := g.h.NewStream(ctx, p, protocolHistory)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		s.SetDeadline(dl)
	}

	req, err := gobEncode(HistoryRequest{After: after, Limit: limit})
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(req); err != nil {
		return nil, err
	}
	if err := s.CloseWrite(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(s)
	if err != nil {
		return nil, err
	}
	var resp HistoryWire
	if err := gobDecode(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	out := make([]events.Envelope, 0, len(resp.Events))
	for _, w := range resp.Events {
		env, err := w.open(g.trusted)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}
