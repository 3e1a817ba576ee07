// Package watch implements the watcher's control loop: a single goroutine
// that cooperatively multiplexes the periodic scan cycle, inbound user
// queries, and shutdown. The loop is the only caller of the scanner, the
// rule engine, and the model client; everything it learns is published to
// the event bus, and the only thing it consumes from the bus is UserQuery.
//
// At most one handler body runs at a time. Cycles never overlap, and a user
// query arriving mid-cycle waits in the loop's bus subscription until the
// loop returns to its select point.
package watch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roasbeef/driftwatch/internal/bus"
	"github.com/roasbeef/driftwatch/internal/config"
	"github.com/roasbeef/driftwatch/internal/model"
	"github.com/roasbeef/driftwatch/internal/scan"
)

// maxConcurrentReviews bounds how many model calls may be in flight at
// once across timer cycles and user queries. The loop runs handlers
// serially, so raising this requires restructuring Run, not just changing
// the constant; it exists to make the bound explicit rather than an
// accident of loop shape.
const maxConcurrentReviews = 1

// State tracks the watcher lifecycle.
type State int32

const (
	// StateRunning is the normal operating state.
	StateRunning State = iota

	// StateDraining means shutdown was requested and the loop is
	// finishing its current handler. No new ticks or queries are
	// accepted.
	StateDraining

	// StateTerminated is terminal: the loop has returned.
	StateTerminated
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ChangeScanner produces per-cycle snapshots of the working tree. Satisfied
// by *scan.Scanner; faked in tests.
type ChangeScanner interface {
	Snapshot(ctx context.Context) (*scan.Snapshot, error)
}

// Config holds the watcher's collaborators and knobs.
type Config struct {
	// Dir is the watched working tree.
	Dir string

	// Interval is the scan cycle period. Defaults to one minute.
	Interval time.Duration

	// Bus is the event bus shared with the gateway.
	Bus *bus.Bus

	// Scanner produces change snapshots. Defaults to a git scanner
	// rooted at Dir.
	Scanner ChangeScanner

	// Completer issues streaming model requests.
	Completer model.Completer

	// LoadProject loads the project config at the start of each cycle.
	// Defaults to config.LoadProjectOrDefault, which degrades to the
	// built-in rule set when the config is absent or malformed.
	LoadProject func(root string) *config.ProjectConfig
}

// Watcher is the scheduler/orchestrator. Construct with New, drive with Run.
type Watcher struct {
	cfg   Config
	state atomic.Int32
}

// New creates a watcher, applying config defaults.
func New(cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Duration(
			config.DefaultCheckIntervalSecs,
		) * time.Second
	}
	if cfg.Scanner == nil {
		cfg.Scanner = scan.New(cfg.Dir)
	}
	if cfg.LoadProject == nil {
		cfg.LoadProject = config.LoadProjectOrDefault
	}

	return &Watcher{cfg: cfg}
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Run executes the control loop until ctx is cancelled. Shutdown is
// cooperative: cancellation stops the acceptance of new ticks and queries,
// the handler in flight winds down at its own suspension points, and Run
// returns nil once the drain completes.
func (w *Watcher) Run(ctx context.Context) error {
	w.state.Store(int32(StateRunning))
	defer w.state.Store(int32(StateTerminated))

	sub := w.cfg.Bus.Subscribe()
	defer sub.Cancel()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	log.Infof("Watcher started, dir=%s, interval=%v", w.cfg.Dir,
		w.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			w.state.Store(int32(StateDraining))
			log.Infof("Watcher draining")
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				log.Infof("Watcher bus closed, stopping")
				return nil
			}
			if ev.Kind != bus.KindUserQuery {
				continue
			}

			w.handleQuery(ctx, ev.Payload)

		case <-ticker.C:
			if err := w.runCycle(ctx); err != nil {
				// A failed cycle is reported and the loop
				// moves on to the next tick.
				log.Errorf("Cycle failed: %v", err)
				w.publishf(bus.KindAnalysis, "[%s] Error: %v",
					timestamp(), err)
			}
		}
	}
}

// handleQuery runs one ad hoc model call with the query text as the entire
// prompt. Errors are published, never raised.
func (w *Watcher) handleQuery(ctx context.Context, query string) {
	query = trimQuery(query)
	if query == "" {
		return
	}

	log.Debugf("Handling user query, len=%d", len(query))

	answer, err := model.Collect(ctx, w.cfg.Completer, query)
	if err != nil {
		w.publishf(bus.KindQueryResponse, "Error: %v", err)
		return
	}

	w.publish(bus.KindQueryResponse, answer)
}

// publish emits one event on the bus.
func (w *Watcher) publish(kind bus.Kind, payload string) {
	w.cfg.Bus.Publish(bus.Event{Kind: kind, Payload: payload})
}

// publishf is publish with formatting.
func (w *Watcher) publishf(kind bus.Kind, format string, args ...any) {
	w.publish(kind, fmt.Sprintf(format, args...))
}

// timestamp renders the wall clock the way cycle headlines expect it.
func timestamp() string {
	return time.Now().Format(time.RFC1123Z)
}
