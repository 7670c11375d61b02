package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
)

// FileWAL appends every event as one JSON line
type FileWAL struct {
	mu  sync.Mutex
	f   *os.File
	log *zap.SugaredLogger
}

func NewFileWAL(path string, log *zap.SugaredLogger) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileWAL{f: f, log: log}, nil
}

func (w *FileWAL) Handle(env events.Envelope) {
	line, err := json.Marshal(env)
	if err != nil {
		w.log.Errorw("wal_encode_failed", "seq", env.Seq, "err", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintln(w.f, string(line)); err != nil {
		w.log.Errorw("wal_append_failed", "seq", env.Seq, "err", err)
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadWAL decodes every line of a FileWAL
func ReadWAL(path string) ([]events.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []events.Envelope
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var env events.Envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			return out, fmt.Errorf("failed to decode wal line %d: %w", len(out)+1, err)
		}
		out = append(out, env)
	}
	return out, sc.Err()
}

// Journal appends every event to the pebble store
type Journal struct {
	Store *PebbleStore
	Log   *zap.SugaredLogger
}

func (j Journal) Handle(env events.Envelope) {
	if err := j.Store.AppendEvent(env); err != nil && j.Log != nil {
		j.Log.Errorw("journal_append_failed", "seq", env.Seq, "kind", env.Kind, "err", err)
	}
}

var _ events.Sink = (*FileWAL)(nil)
var _ events.Sink = Journal{}
