package watch

import (
	"context"
	"fmt"
	"strings"

	"github.com/roasbeef/driftwatch/internal/bus"
	"github.com/roasbeef/driftwatch/internal/model"
	"github.com/roasbeef/driftwatch/internal/rules"
	"github.com/roasbeef/driftwatch/internal/scan"
)

// runCycle executes one full scan-and-review pass. The project config is
// loaded fresh, the scanner takes one consistent snapshot, and every
// non-excluded changed file is reviewed by its matching rules (or the
// default pair). Scan failures abort the cycle; model failures abort only
// the rule they occurred in.
func (w *Watcher) runCycle(ctx context.Context) error {
	projCfg := w.cfg.LoadProject(w.cfg.Dir)
	if !projCfg.Enabled {
		return nil
	}

	snap, err := w.cfg.Scanner.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Files) == 0 {
		return nil
	}

	log.Infof("Cycle started, %d changed file(s)", len(snap.Files))
	w.publishf(bus.KindAnalysis, "[%s] %d changed file(s) detected",
		timestamp(), len(snap.Files))

	engine := rules.NewEngine(projCfg)
	for _, file := range snap.Files {
		if engine.Excluded(file.Path) {
			w.publishf(bus.KindAnalysis,
				"[skip] %s matches an exclude pattern",
				file.Path)
			continue
		}

		w.reviewFile(ctx, engine, snap, file)
	}

	log.Infof("Cycle finished")

	return nil
}

// reviewFile runs every applicable review for one changed file, publishing
// a progress header and a result (or error) event per review.
func (w *Watcher) reviewFile(ctx context.Context, engine *rules.Engine,
	snap *scan.Snapshot, file scan.ChangedFile) {

	w.publishf(bus.KindAnalysis, "--- analyzing %s ---", file.Path)
	defer w.publishf(bus.KindAnalysis, "--- finished %s ---", file.Path)

	matched := engine.RulesFor(file.Path)
	if len(matched) == 0 {
		w.runDefaultReviews(ctx, file)
		return
	}

	for i, rule := range matched {
		input, ok := w.reviewInput(snap.Root, file)
		if !ok {
			w.publishf(bus.KindAnalysis,
				"[skip] %s: no readable content for rule %s",
				file.Path, rule.Name)
			continue
		}

		header := fmt.Sprintf("[%d/%d] %s: %s", i+1, len(matched),
			rule.Name, rule.Description)
		w.analyze(ctx, header, rules.RenderPrompt(
			rule, file.Path, input,
		))
	}
}

// runDefaultReviews applies the built-in review pair to a file no rule
// matched. Default reviews only make sense against a diff; a file with no
// committed counterpart is reported and skipped.
func (w *Watcher) runDefaultReviews(ctx context.Context,
	file scan.ChangedFile) {

	diff := file.Diff.UnwrapOr("")
	if diff == "" {
		w.publishf(bus.KindAnalysis,
			"[skip] %s: no diff available for default review",
			file.Path)
		return
	}

	defaults := rules.DefaultReviews()
	for i, rule := range defaults {
		header := fmt.Sprintf("[%d/%d] %s: %s", i+1, len(defaults),
			rule.Name, rule.Description)
		w.analyze(ctx, header, rules.RenderPrompt(
			rule, file.Path, diff,
		))
	}
}

// reviewInput picks the review input for a file: its diff when one exists,
// otherwise the file's full content read from the tree.
func (w *Watcher) reviewInput(root string,
	file scan.ChangedFile) (string, bool) {

	if diff := file.Diff.UnwrapOr(""); diff != "" {
		return diff, true
	}

	content, err := scan.ReadFile(root, file.Path)
	if err != nil {
		log.Warnf("No review input for %s: %v", file.Path, err)
		return "", false
	}

	return content, true
}

// analyze publishes the progress header, runs one model call, and publishes
// either the aggregated answer or the error. A model failure never aborts
// the cycle.
func (w *Watcher) analyze(ctx context.Context, header, prompt string) {
	w.publish(bus.KindAnalysis, "\n"+header)

	answer, err := model.Collect(ctx, w.cfg.Completer, prompt)
	if err != nil {
		log.Errorf("Model call failed: %v", err)
		w.publishf(bus.KindAnalysis, "Error: %v", err)
		return
	}

	w.publish(bus.KindAnalysis, answer)
}

// trimQuery normalizes inbound query text.
func trimQuery(q string) string {
	return strings.TrimSpace(q)
}
