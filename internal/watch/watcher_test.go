package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/driftwatch/internal/bus"
	"github.com/roasbeef/driftwatch/internal/config"
	"github.com/roasbeef/driftwatch/internal/model"
	"github.com/roasbeef/driftwatch/internal/scan"
	"github.com/stretchr/testify/require"
)

// scriptedStream yields one fragment, then EOF or a scripted error.
type scriptedStream struct {
	frag string
	err  error
	sent bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.sent {
		if s.err != nil {
			return "", s.err
		}

		return "", io.EOF
	}
	s.sent = true

	return s.frag, nil
}

func (s *scriptedStream) Close() error { return nil }

// recordingCompleter records every prompt and answers each with "ok", or
// fails according to the script. Safe for concurrent use, since the Run
// tests read prompts while the loop goroutine appends.
type recordingCompleter struct {
	mu      sync.Mutex
	prompts []string
	openErr error
	recvErr error
}

func (c *recordingCompleter) StreamCompletion(_ context.Context,
	prompt string) (model.Stream, error) {

	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.openErr != nil {
		return nil, c.openErr
	}

	return &scriptedStream{frag: "ok", err: c.recvErr}, nil
}

// Prompts returns a copy of the recorded prompts.
func (c *recordingCompleter) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.prompts...)
}

// scanFunc adapts a function to ChangeScanner.
type scanFunc func(ctx context.Context) (*scan.Snapshot, error)

func (f scanFunc) Snapshot(ctx context.Context) (*scan.Snapshot, error) {
	return f(ctx)
}

// staticSnapshot builds a scanner that always reports the same files.
func staticSnapshot(root string, files ...scan.ChangedFile) scanFunc {
	return func(context.Context) (*scan.Snapshot, error) {
		return &scan.Snapshot{Root: root, Files: files}, nil
	}
}

// changed builds a ChangedFile with a diff.
func changed(path, diff string) scan.ChangedFile {
	f := scan.ChangedFile{Path: path, Status: " M"}
	if diff != "" {
		f.Diff = fn.Some(diff)
	}

	return f
}

// newTestWatcher wires a watcher over fakes and a fresh bus, and returns a
// subscription opened before anything runs.
func newTestWatcher(t *testing.T, projCfg *config.ProjectConfig,
	scanner ChangeScanner,
	completer *recordingCompleter) (*Watcher, *bus.Subscription) {

	t.Helper()

	b := bus.New()
	t.Cleanup(b.Close)

	w := New(Config{
		Dir:       t.TempDir(),
		Interval:  time.Hour,
		Bus:       b,
		Scanner:   scanner,
		Completer: completer,
		LoadProject: func(string) *config.ProjectConfig {
			return projCfg
		},
	})

	return w, b.Subscribe()
}

// drain empties a subscription's backlog. Safe here because the watcher
// publishes synchronously from the calling goroutine.
func drain(sub *bus.Subscription) []bus.Event {
	var evs []bus.Event
	for {
		select {
		case ev := <-sub.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

// payloads filters the drained events down to one kind.
func payloads(evs []bus.Event, kind bus.Kind) []string {
	var out []string
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev.Payload)
		}
	}

	return out
}

// noRules is a project config with no rules of its own, which routes every
// file to the default review pair.
func noRules() *config.ProjectConfig {
	return &config.ProjectConfig{Enabled: true}
}

// TestCycleDefaultPair verifies a file no rule matches gets exactly the
// default review pair, syntax scan before security scan, per file.
func TestCycleDefaultPair(t *testing.T) {
	t.Parallel()

	completer := &recordingCompleter{}
	w, _ := newTestWatcher(t, noRules(), staticSnapshot(
		"/repo",
		changed("a.rs", "diff-a"),
		changed("b.txt", "diff-b"),
	), completer)

	require.NoError(t, w.runCycle(context.Background()))

	// Two reviews per file, in file order.
	require.Len(t, completer.Prompts(), 4)
	require.Contains(t, completer.Prompts()[0], "`a.rs`")
	require.Contains(t, completer.Prompts()[0], "syntax")
	require.Contains(t, completer.Prompts()[1], "`a.rs`")
	require.Contains(t, completer.Prompts()[1], "security")
	require.Contains(t, completer.Prompts()[2], "`b.txt`")
	require.Contains(t, completer.Prompts()[3], "`b.txt`")

	// Every prompt carries the file's diff behind the separator.
	require.Contains(t, completer.Prompts()[0], "\n\n---\n\ndiff-a")
	require.Contains(t, completer.Prompts()[2], "\n\n---\n\ndiff-b")
}

// TestCycleDefaultPairNeedsDiff verifies a diff-less file is skipped with a
// notice instead of being reviewed against nothing.
func TestCycleDefaultPairNeedsDiff(t *testing.T) {
	t.Parallel()

	completer := &recordingCompleter{}
	w, sub := newTestWatcher(t, noRules(), staticSnapshot(
		"/repo", changed("untracked.txt", ""),
	), completer)

	require.NoError(t, w.runCycle(context.Background()))
	require.Empty(t, completer.Prompts())

	analysis := payloads(drain(sub), bus.KindAnalysis)
	require.Contains(t, analysis,
		"[skip] untracked.txt: no diff available for default review")
}

// TestCycleMatchedRuleOrder verifies matched rules run highest priority
// first and the default pair stays out of it.
func TestCycleMatchedRuleOrder(t *testing.T) {
	t.Parallel()

	projCfg := &config.ProjectConfig{
		Enabled: true,
		Rules: []config.ReviewRule{
			{
				Name: "second", Priority: 100, Enabled: true,
				FilePatterns: []string{"*.go"},
				Prompt:       "SECOND {file_path}",
			},
			{
				Name: "first", Priority: 200, Enabled: true,
				FilePatterns: []string{"*.go"},
				Prompt:       "FIRST {file_path}",
			},
		},
	}

	completer := &recordingCompleter{}
	w, _ := newTestWatcher(t, projCfg, staticSnapshot(
		"/repo", changed("main.go", "some diff"),
	), completer)

	require.NoError(t, w.runCycle(context.Background()))

	require.Len(t, completer.Prompts(), 2)
	require.Contains(t, completer.Prompts()[0], "FIRST main.go")
	require.Contains(t, completer.Prompts()[1], "SECOND main.go")
}

// TestCycleExcludedFile verifies excluded paths are skipped before any rule
// matching, with a notice on the bus.
func TestCycleExcludedFile(t *testing.T) {
	t.Parallel()

	projCfg := config.DefaultProject()
	completer := &recordingCompleter{}
	w, sub := newTestWatcher(t, projCfg, staticSnapshot(
		"/repo", changed("node_modules/pkg/index.js", "d"),
	), completer)

	require.NoError(t, w.runCycle(context.Background()))
	require.Empty(t, completer.Prompts())

	analysis := payloads(drain(sub), bus.KindAnalysis)
	require.Contains(t, analysis,
		"[skip] node_modules/pkg/index.js matches an exclude pattern")
}

// TestCycleDisabledProject verifies a disabled project never even scans.
func TestCycleDisabledProject(t *testing.T) {
	t.Parallel()

	scanned := false
	scanner := scanFunc(func(context.Context) (*scan.Snapshot, error) {
		scanned = true
		return &scan.Snapshot{}, nil
	})

	completer := &recordingCompleter{}
	w, sub := newTestWatcher(t, &config.ProjectConfig{Enabled: false},
		scanner, completer)

	require.NoError(t, w.runCycle(context.Background()))
	require.False(t, scanned)
	require.Empty(t, drain(sub))
}

// TestCycleCleanTreeQuiet verifies an empty snapshot publishes nothing.
func TestCycleCleanTreeQuiet(t *testing.T) {
	t.Parallel()

	completer := &recordingCompleter{}
	w, sub := newTestWatcher(t, noRules(),
		staticSnapshot("/repo"), completer)

	require.NoError(t, w.runCycle(context.Background()))
	require.Empty(t, completer.Prompts())
	require.Empty(t, drain(sub))
}

// TestCycleScanError verifies a failing scan aborts the cycle with the
// error.
func TestCycleScanError(t *testing.T) {
	t.Parallel()

	scanErr := errors.New("not a git repository")
	scanner := scanFunc(func(context.Context) (*scan.Snapshot, error) {
		return nil, scanErr
	})

	w, _ := newTestWatcher(t, noRules(), scanner, &recordingCompleter{})

	require.ErrorIs(t, w.runCycle(context.Background()), scanErr)
}

// TestCycleModelErrorContinues verifies a model failure is published as an
// analysis event and the remaining reviews still run.
func TestCycleModelErrorContinues(t *testing.T) {
	t.Parallel()

	completer := &recordingCompleter{
		recvErr: errors.New("connection reset"),
	}
	w, sub := newTestWatcher(t, noRules(), staticSnapshot(
		"/repo", changed("a.rs", "diff-a"),
	), completer)

	require.NoError(t, w.runCycle(context.Background()))

	// Both default reviews were attempted despite the first failing.
	require.Len(t, completer.Prompts(), 2)

	analysis := payloads(drain(sub), bus.KindAnalysis)
	var errCount int
	for _, p := range analysis {
		if p == "Error: connection reset" {
			errCount++
		}
	}
	require.Equal(t, 2, errCount)

	// The file's bracket events still appeared.
	require.Contains(t, analysis, "--- analyzing a.rs ---")
	require.Contains(t, analysis, "--- finished a.rs ---")
}

// TestCycleFullContentFallback verifies a matched rule with no diff reads
// the file's content from the tree.
func TestCycleFullContentFallback(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "new.go"), []byte("package new\n"), 0o600,
	))

	projCfg := &config.ProjectConfig{
		Enabled: true,
		Rules: []config.ReviewRule{{
			Name: "go-rule", Priority: 100, Enabled: true,
			FilePatterns: []string{"*.go"},
			Prompt:       "review {file_path}",
		}},
	}

	completer := &recordingCompleter{}
	w, _ := newTestWatcher(t, projCfg, staticSnapshot(
		root, changed("new.go", ""),
	), completer)

	require.NoError(t, w.runCycle(context.Background()))

	require.Len(t, completer.Prompts(), 1)
	require.Contains(t, completer.Prompts()[0],
		"review new.go\n\n---\n\npackage new\n")
}

// TestHandleQuery verifies query routing: trimmed text becomes the whole
// prompt and the answer comes back as a QueryResponse.
func TestHandleQuery(t *testing.T) {
	t.Parallel()

	completer := &recordingCompleter{}
	w, sub := newTestWatcher(t, noRules(), staticSnapshot("/repo"),
		completer)

	w.handleQuery(context.Background(), "  what changed?  \n")

	require.Equal(t, []string{"what changed?"}, completer.Prompts())
	require.Equal(t, []string{"ok"},
		payloads(drain(sub), bus.KindQueryResponse))
}

// TestHandleQueryBlank verifies whitespace-only queries are dropped without
// a model call.
func TestHandleQueryBlank(t *testing.T) {
	t.Parallel()

	completer := &recordingCompleter{}
	w, sub := newTestWatcher(t, noRules(), staticSnapshot("/repo"),
		completer)

	w.handleQuery(context.Background(), "   \n\t")

	require.Empty(t, completer.Prompts())
	require.Empty(t, drain(sub))
}

// TestHandleQueryError verifies a failed query publishes the error instead
// of raising it.
func TestHandleQueryError(t *testing.T) {
	t.Parallel()

	completer := &recordingCompleter{
		openErr: errors.New("dial refused"),
	}
	w, sub := newTestWatcher(t, noRules(), staticSnapshot("/repo"),
		completer)

	w.handleQuery(context.Background(), "anything")

	responses := payloads(drain(sub), bus.KindQueryResponse)
	require.Len(t, responses, 1)
	require.Contains(t, responses[0], "Error: ")
	require.Contains(t, responses[0], "dial refused")
}

// TestRunRoutesQueries verifies the live loop answers UserQuery events from
// the bus and ignores every other kind.
func TestRunRoutesQueries(t *testing.T) {
	t.Parallel()

	b := bus.New()
	t.Cleanup(b.Close)

	completer := &recordingCompleter{}
	w := New(Config{
		Dir:       t.TempDir(),
		Interval:  time.Hour,
		Bus:       b,
		Scanner:   staticSnapshot("/repo"),
		Completer: completer,
		LoadProject: func(string) *config.ProjectConfig {
			return noRules()
		},
	})

	sub := b.Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The loop subscribes when Run starts; republish until it answers so
	// the test never races the subscription.
	var answer string
	require.Eventually(t, func() bool {
		b.Publish(bus.Event{
			Kind: bus.KindAnalysis, Payload: "not a query",
		})
		b.Publish(bus.Event{
			Kind: bus.KindUserQuery, Payload: "hello?",
		})
		for _, ev := range drain(sub) {
			if ev.Kind == bus.KindQueryResponse {
				answer = ev.Payload
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "ok", answer)
	require.NotEmpty(t, completer.Prompts())
	require.Equal(t, "hello?", completer.Prompts()[0])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	require.Equal(t, StateTerminated, w.State())
}

// TestRunTickerCycle verifies the live loop runs cycles on the timer and
// publishes scan errors instead of dying.
func TestRunTickerCycle(t *testing.T) {
	t.Parallel()

	b := bus.New()
	t.Cleanup(b.Close)

	scanErr := errors.New("scan exploded")
	scanner := scanFunc(func(context.Context) (*scan.Snapshot, error) {
		return nil, scanErr
	})

	w := New(Config{
		Dir:       t.TempDir(),
		Interval:  10 * time.Millisecond,
		Bus:       b,
		Scanner:   scanner,
		Completer: &recordingCompleter{},
		LoadProject: func(string) *config.ProjectConfig {
			return noRules()
		},
	})

	sub := b.Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// At least two cycles fail and report; the loop keeps going.
	var reported int
	require.Eventually(t, func() bool {
		for _, p := range payloads(drain(sub), bus.KindAnalysis) {
			if p != "" {
				reported++
			}
		}
		return reported >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

// TestStateString pins the lifecycle names used in logs.
func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "running", StateRunning.String())
	require.Equal(t, "draining", StateDraining.String())
	require.Equal(t, "terminated", StateTerminated.String())
	require.Equal(t, "unknown(9)", State(9).String())
}
