package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Sink receives every published envelope. Handle runs on the publisher's
// goroutine while the pair is still locked, so it must not block.
type Sink interface {
	Handle(env Envelope)
}

type SinkFunc func(env Envelope)

func (f SinkFunc) Handle(env Envelope) { f(env) }

// Bus stamps events with a global sequence number and fans them out to sinks
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
	seq   atomic.Uint64
	clock util.Clock
	log   *zap.SugaredLogger
}

func NewBus(clock util.Clock, log *zap.SugaredLogger) *Bus {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{clock: clock, log: log}
}

func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Resume continues numbering after seq, used when replaying a journal
func (b *Bus) Resume(seq uint64) { b.seq.Store(seq) }

// Seq returns the sequence number of the last published event
func (b *Bus) Seq() uint64 { return b.seq.Load() }

// Publish wraps evs in envelopes, delivers them in order and returns them
func (b *Bus) Publish(evs ...Event) []Envelope {
	now := b.clock.Now().UnixMilli()
	out := make([]Envelope, 0, len(evs))
	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			b.log.Errorw("event_encode_failed", "kind", ev.Kind(), "err", err)
			continue
		}
		out = append(out, Envelope{
			Seq:    b.seq.Add(1),
			Kind:   ev.Kind(),
			PairID: ev.Pair(),
			Time:   now,
			Data:   data,
		})
	}

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, env := range out {
		for _, s := range sinks {
			s.Handle(env)
		}
	}
	return out
}

// LogSink writes every event to a structured logger
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Handle(env Envelope) {
	s.Log.Infow(string(env.Kind),
		"seq", env.Seq,
		"pair_id", env.PairID,
		"data", string(env.Data))
}

// Recorder keeps every envelope in memory
type Recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *Recorder) Handle(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

// Kinds lists recorded event kinds in publication order
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.envs))
	for i, env := range r.envs {
		out[i] = env.Kind
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = nil
}
