// Package analytics is the append-only sink for MCP bridge tool-call records.
// Records queue on a bounded channel and drain to the store in batches; a
// retention sweep prunes old rows.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/standardbeagle/uci/internal/store"
)

const (
	queueSize     = 1024
	drainInterval = 2 * time.Second
	sweepInterval = time.Hour
)

// Record is one tool invocation as reported by the bridge.
type Record struct {
	Tool        string          `json:"tool"`
	Args        json.RawMessage `json:"args,omitempty"`
	DurationMs  int64           `json:"durationMs"`
	ResultBytes int64           `json:"resultSize"`
	SessionID   string          `json:"sessionId,omitempty"`
}

// Sink owns the queue and the background drain/sweep loops.
type Sink struct {
	store     *store.Store
	log       zerolog.Logger
	retention time.Duration

	queue chan store.ToolCall

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New starts the sink's background loop.
func New(st *store.Store, retention time.Duration, log zerolog.Logger) *Sink {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	s := &Sink{
		store:     st,
		log:       log.With().Str("component", "analytics").Logger(),
		retention: retention,
		queue:     make(chan store.ToolCall, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.loop()
	return s
}

// Append enqueues one record. The queue is bounded; when the sink cannot keep
// up, records are dropped rather than backing the bridge up.
func (s *Sink) Append(r Record) {
	call := store.ToolCall{
		Tool:        r.Tool,
		ArgsDigest:  digestArgs(r.Args),
		DurationMs:  r.DurationMs,
		ResultBytes: r.ResultBytes,
		SessionID:   r.SessionID,
		CreatedAt:   time.Now(),
	}
	select {
	case s.queue <- call:
	default:
		s.log.Debug().Str("tool", r.Tool).Msg("analytics queue full, dropping record")
	}
}

// Aggregate returns the per-tool rollup.
func (s *Sink) Aggregate(ctx context.Context) ([]store.ToolCallAggregate, error) {
	return s.store.AggregateToolCalls(ctx)
}

// Close drains the queue once more and stops the loops.
func (s *Sink) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sink) loop() {
	defer close(s.done)
	drain := time.NewTicker(drainInterval)
	defer drain.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-s.stop:
			s.flush()
			return
		case <-drain.C:
			s.flush()
		case <-sweep.C:
			cutoff := time.Now().Add(-s.retention)
			if n, err := s.store.PruneToolCalls(context.Background(), cutoff); err != nil {
				s.log.Warn().Err(err).Msg("analytics retention sweep failed")
			} else if n > 0 {
				s.log.Debug().Int64("pruned", n).Msg("analytics retention sweep")
			}
		}
	}
}

func (s *Sink) flush() {
	var batch []store.ToolCall
	for {
		select {
		case call := <-s.queue:
			batch = append(batch, call)
		default:
			if len(batch) == 0 {
				return
			}
			if err := s.store.AppendToolCalls(context.Background(), batch); err != nil {
				s.log.Warn().Err(err).Int("records", len(batch)).Msg("analytics append failed")
			}
			return
		}
	}
}

// digestArgs hashes the canonical argument JSON; the raw arguments never land
// in the database.
func digestArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	// Re-encoding sorts object keys and drops insignificant whitespace;
	// arguments that do not parse are hashed as received.
	canonical := []byte(args)
	var v any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&v); err == nil {
		if out, err := json.Marshal(v); err == nil {
			canonical = out
		}
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(canonical))
}
