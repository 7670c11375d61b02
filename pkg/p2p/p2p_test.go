package p2p

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

func blsSigner(t *testing.T, seed string) *crypto.BLSSigner {
	t.Helper()
	s, err := crypto.NewBLSSignerFromSeed([]byte(seed))
	require.NoError(t, err)
	return s
}

func envelope(seq uint64, id pair.ID) events.Envelope {
	return events.Envelope{
		Seq:    seq,
		Kind:   events.KindSwapExecuted,
		PairID: id,
		Time:   1_700_000_000_000,
		Data:   json.RawMessage(`{"pairId":1}`),
	}
}

func TestAttestation(t *testing.T) {
	signer := blsSigner(t, "node-a")
	env := envelope(7, 1)

	w, err := attest(signer, env)
	require.NoError(t, err)

	got, err := w.open(nil)
	require.NoError(t, err)
	require.Equal(t, env, got)

	// publisher allowlist
	_, err = w.open(map[string]bool{string(blsSigner(t, "node-b").PubkeyBytes()): true})
	require.ErrorIs(t, err, ErrBadAttestation)
	_, err = w.open(map[string]bool{string(signer.PubkeyBytes()): true})
	require.NoError(t, err)

	// tampered envelope
	forged := w
	forged.Envelope = []byte(`{"seq":8,"kind":"swap_executed","pairId":1,"time":0,"data":{}}`)
	_, err = forged.open(nil)
	require.ErrorIs(t, err, ErrBadAttestation)

	// key swapped for another node's
	forged = w
	forged.PubKey = blsSigner(t, "node-b").PubkeyBytes()
	_, err = forged.open(nil)
	require.ErrorIs(t, err, ErrBadAttestation)

	forged = w
	forged.PubKey = []byte{1, 2, 3}
	_, err = forged.open(nil)
	require.ErrorIs(t, err, ErrBadAttestation)
}

func TestWireGobRoundTrip(t *testing.T) {
	w, err := attest(blsSigner(t, "node-a"), envelope(1, 2))
	require.NoError(t, err)

	data, err := gobEncode(HistoryWire{Events: []EventWire{w}})
	require.NoError(t, err)
	var got HistoryWire
	require.NoError(t, gobDecode(data, &got))
	require.Len(t, got.Events, 1)
	require.Equal(t, w, got.Events[0])
}

type fakeHistory struct {
	envs []events.Envelope
}

func (f fakeHistory) LoadEvents(after uint64, _ pair.ID, limit int) ([]events.Envelope, error) {
	var out []events.Envelope
	for _, env := range f.envs {
		if env.Seq > after && len(out) < limit {
			out = append(out, env)
		}
	}
	return out, nil
}

func newPair(t *testing.T, ctx context.Context, history History) (*Gossip, *Gossip) {
	t.Helper()
	a, err := NewGossip(ctx, Config{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Signer:     blsSigner(t, "node-a"),
		History:    history,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	b, err := NewGossip(ctx, Config{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Bootstrap:  a.Addrs(),
		Signer:     blsSigner(t, "node-b"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return a, b
}

func TestGossipDeliversSignedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, b := newPair(t, ctx, nil)

	var (
		mu   sync.Mutex
		got  []Received
		next uint64
	)
	b.OnEvent(func(r Received) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	// the mesh forms asynchronously, so keep publishing until one arrives
	require.Eventually(t, func() bool {
		next++
		a.Handle(envelope(next, 3))
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 15*time.Second, 200*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, a.Host().ID(), got[0].From)
	require.Equal(t, blsSigner(t, "node-a").PubkeyBytes(), got[0].PubKey)
	require.Equal(t, pair.ID(3), got[0].Envelope.PairID)
	require.Equal(t, events.KindSwapExecuted, got[0].Envelope.Kind)
}

func TestFetchHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	history := fakeHistory{envs: []events.Envelope{envelope(1, 1), envelope(2, 2), envelope(3, 1)}}
	a, b := newPair(t, ctx, history)

	fetchCtx, fetchCancel := context.WithTimeout(ctx, 5*time.Second)
	defer fetchCancel()
	envs, err := b.FetchHistory(fetchCtx, a.Host().ID(), 1, 10)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	require.Equal(t, uint64(2), envs[0].Seq)
	require.Equal(t, uint64(3), envs[1].Seq)
}
