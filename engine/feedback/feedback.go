// Package feedback closes the human-in-the-loop calibration cycle: it
// journals reviewer verdicts, folds draft critiques back into the scout's
// instruction, and rewrites the search query once enough critique has
// accumulated. Journalling always lands; the LLM rewrites are best-effort
// and the previous text survives any failure.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scoutline/scoutd/engine/agent"
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/store"
)

// CalibrationFloor is how many stored calibrations a scout needs before
// Optimize will touch its query.
const CalibrationFloor = 3

// maxRejectedExamples caps how many rejection examples enter the optimizer
// prompt.
const maxRejectedExamples = 5

// fallbackInstruction stands in for an empty instruction so the rewrite
// prompt always shows the model something to improve.
const fallbackInstruction = "Summarize this content and highlight key takeaways for a social media audience."

const calibratePrompt = `You are an Expert Prompt Engineer.

Your task is to improve a System Prompt based on user feedback about its output.

Current System Prompt:
"%s"

User Feedback on Output:
"%s"

Instructions:
1. Analyze the feedback to understand what was wrong or missing in the output.
2. Rewrite the System Prompt to incorporate this new instruction/constraint naturally.
3. Keep the core goal (summarizing/highlighting takeaways) but refine the tone/style instructions.
4. Return ONLY the new System Prompt text. Do not add explanations.`

const optimizePrompt = `You are an expert Search Query Optimizer.

Current Query: "%s"

User Feedback:
- Approved Items (Good): %d items
- Rejected Items (Bad): %d items

Rejected Examples:
%s

Task:
Analyze the rejected items and their reasons.
Propose a refined search query that excludes the bad results while keeping the good ones.
Return ONLY the new query string.`

// Service journals verdicts and steers scouts from them.
type Service struct {
	store   *store.Store
	runtime *agent.Runtime
	log     *slog.Logger
}

func New(st *store.Store, rt *agent.Runtime, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, runtime: rt, log: log}
}

// Record appends one verdict to the scout's journal.
func (s *Service) Record(ctx context.Context, scoutID int64, itemURL string, action domain.FeedbackAction, comment string) error {
	_, err := s.store.AddFeedback(ctx, domain.Feedback{
		ScoutID: scoutID,
		ItemURL: itemURL,
		Action:  action,
		Comment: comment,
	})
	return err
}

// Calibrate stores one draft/critique pair, then asks the model to fold the
// critique into the scout's instruction. The calibration row always lands;
// the rewrite is best-effort and any failure keeps the old instruction. The
// returned bool reports whether the instruction changed.
func (s *Service) Calibrate(ctx context.Context, sc domain.Scout, sourceURL, draft, critique string) (string, bool, error) {
	if strings.TrimSpace(critique) == "" {
		return sc.Instruction, false, fmt.Errorf("feedback: calibrate needs a critique")
	}
	if _, err := s.store.AddCalibration(ctx, domain.Calibration{
		ScoutID:   sc.ID,
		SourceURL: sourceURL,
		Draft:     draft,
		Feedback:  critique,
	}); err != nil {
		return sc.Instruction, false, err
	}

	current := sc.Instruction
	if current == "" {
		current = fallbackInstruction
	}
	rewritten, err := s.runtime.Generate(ctx, agent.Invocation{
		Scout:  sc.Name,
		Kind:   string(sc.Kind),
		Prompt: fmt.Sprintf(calibratePrompt, current, critique),
	})
	if err != nil {
		s.log.Warn("instruction rewrite failed, keeping the previous one",
			"scout", sc.Name, "error", err)
		return sc.Instruction, false, nil
	}
	rewritten = stripQuotes(strings.TrimSpace(rewritten))
	if rewritten == "" {
		s.log.Warn("instruction rewrite came back empty, keeping the previous one", "scout", sc.Name)
		return sc.Instruction, false, nil
	}

	if err := s.store.UpdateInstruction(ctx, sc.ID, rewritten); err != nil {
		s.log.Warn("could not persist rewritten instruction, keeping the previous one",
			"scout", sc.Name, "error", err)
		return sc.Instruction, false, nil
	}
	s.log.Info("instruction calibrated", "scout", sc.Name)
	return rewritten, true, nil
}

// Optimize proposes a sharper search query from the scout's accumulated
// verdicts and persists it. It is gated on CalibrationFloor stored
// calibrations; below the floor, or without feedback to learn from, the
// configured query comes back unchanged. The returned bool reports whether
// the query changed.
func (s *Service) Optimize(ctx context.Context, sc domain.Scout) (string, bool, error) {
	current := sc.Config.Str("query", "")

	n, err := s.store.CountCalibrations(ctx, sc.ID)
	if err != nil {
		return current, false, err
	}
	if n < CalibrationFloor {
		s.log.Info("not enough calibrations to optimize",
			"scout", sc.Name, "have", n, "need", CalibrationFloor)
		return current, false, nil
	}

	fb, err := s.store.ListFeedback(ctx, sc.ID)
	if err != nil {
		return current, false, err
	}
	if len(fb) == 0 {
		s.log.Info("no feedback to optimize from", "scout", sc.Name)
		return current, false, nil
	}

	approved := 0
	var rejected []string
	for _, f := range fb {
		switch f.Action {
		case domain.ActionApproved:
			approved++
		case domain.ActionRejected:
			rejected = append(rejected, fmt.Sprintf("%s (Reason: %s)", f.ItemURL, f.Comment))
		}
	}
	examples := rejected
	if len(examples) > maxRejectedExamples {
		examples = examples[:maxRejectedExamples]
	}
	sample, err := json.MarshalIndent(examples, "", "  ")
	if err != nil {
		return current, false, fmt.Errorf("feedback: encode rejected examples: %w", err)
	}

	shown := current
	if shown == "" {
		shown = "N/A"
	}
	proposed, err := s.runtime.Generate(ctx, agent.Invocation{
		Scout:  sc.Name,
		Kind:   string(sc.Kind),
		Prompt: fmt.Sprintf(optimizePrompt, shown, approved, len(rejected), sample),
	})
	if err != nil {
		return current, false, fmt.Errorf("feedback: optimize %q: %w", sc.Name, err)
	}
	proposed = strings.TrimSpace(proposed)
	if proposed == "" || proposed == current {
		s.log.Info("optimizer kept the query", "scout", sc.Name)
		return current, false, nil
	}

	if sc.Config == nil {
		sc.Config = domain.Config{}
	}
	sc.Config["query"] = proposed
	if err := s.store.UpdateScout(ctx, sc); err != nil {
		return current, false, err
	}
	s.log.Info("query optimized", "scout", sc.Name, "query", proposed)
	return proposed, true, nil
}

// stripQuotes removes one pair of wrapping double quotes, which models tend
// to add because the prompt shows the current instruction quoted.
func stripQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
