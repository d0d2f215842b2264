package improve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/logging"
)

const (
	// StallLimit is the number of consecutive non-improving iterations that
	// ends a run.
	StallLimit = 3
	// RegressionTolerance is how far below the best score an iteration may
	// fall before the best checkpoint is restored.
	RegressionTolerance = 0.05

	scoreEpsilon  = 1e-9
	maxSuggestion = 50
)

// Stop reasons.
const (
	StopSuccess       = "success"
	StopStalled       = "stalled"
	StopMaxIterations = "max_iterations"
)

// Options configures a run.
type Options struct {
	RunDir         string
	RunID          string
	MaxIterations  int
	TargetCoverage float64
	TargetScore    float64
	PendingFloor   float64
	Now            func() time.Time
}

// Iteration is the report of one iteration, written as iteration-NNN.json.
type Iteration struct {
	Number            int                    `json:"number"`
	DictionaryVersion string                 `json:"dictionary_version"`
	Metrics           Metrics                `json:"metrics"`
	Improved          bool                   `json:"improved"`
	Regressed         bool                   `json:"regressed"`
	Restored          bool                   `json:"restored"`
	Stall             int                    `json:"stall"`
	Unmapped          []UnmappedHeader       `json:"unmapped"`
	Suggestions       dictionary.ApplyReport `json:"suggestions"`
	StartedAt         time.Time              `json:"started_at"`
	Duration          string                 `json:"duration"`
}

// History is the outcome of a run, written as summary.json.
type History struct {
	RunID         string      `json:"run_id"`
	Iterations    []Iteration `json:"iterations"`
	BestScore     float64     `json:"best_score"`
	BestIteration int         `json:"best_iteration"`
	BestVersion   string      `json:"best_version"`
	FinalVersion  string      `json:"final_version"`
	StopReason    string      `json:"stop_reason"`
	Succeeded     bool        `json:"succeeded"`
	ArtifactDir   string      `json:"artifact_dir"`
}

// Checkpoint is the best-scoring dictionary seen so far.
type Checkpoint struct {
	Iteration int                  `json:"iteration"`
	Score     float64              `json:"score"`
	Version   string               `json:"version"`
	Snapshot  *dictionary.Snapshot `json:"-"`
}

// Loop grows the dictionary until the corpus scores well enough or progress
// stalls.
type Loop struct {
	dict      *dictionary.Store
	evaluator Evaluator
	suggester Suggester
	opts      Options
}

func NewLoop(dict *dictionary.Store, evaluator Evaluator, suggester Suggester, opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 5
	}
	if opts.PendingFloor <= 0 {
		opts.PendingFloor = dictionary.DefaultPendingFloor
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.RunID == "" {
		opts.RunID = opts.Now().Format("20060102-150405")
	}
	return &Loop{dict: dict, evaluator: evaluator, suggester: suggester, opts: opts}
}

// ArtifactDir is where the run writes its reports.
func (l *Loop) ArtifactDir() string {
	if l.opts.RunDir == "" {
		return ""
	}
	return filepath.Join(l.opts.RunDir, l.opts.RunID)
}

// Run iterates evaluate, score, suggest and apply. Iterations are
// sequential because each one evaluates the previous one's dictionary.
func (l *Loop) Run(ctx context.Context) (History, error) {
	log := logging.FromContext(ctx).With().Str("run_id", l.opts.RunID).Logger()
	ctx = logging.WithLogger(ctx, &log)

	history := History{RunID: l.opts.RunID, ArtifactDir: l.ArtifactDir()}
	if dir := l.ArtifactDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return history, fmt.Errorf("failed to create run directory: %w", err)
		}
	}

	var best *Checkpoint
	stall := 0

	for n := 1; n <= l.opts.MaxIterations; n++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		started := l.opts.Now()
		snap := l.dict.Current()

		eval, err := l.evaluator.Evaluate(ctx, snap)
		if err != nil {
			return history, fmt.Errorf("iteration %d: %w", n, err)
		}

		it := Iteration{
			Number:            n,
			DictionaryVersion: snap.Version(),
			Metrics:           eval.Metrics,
			Unmapped:          eval.Unmapped,
			StartedAt:         started,
		}

		score := eval.Metrics.Score
		switch {
		case best == nil || score > best.Score+scoreEpsilon:
			best = &Checkpoint{Iteration: n, Score: score, Version: snap.Version(), Snapshot: snap}
			stall = 0
			it.Improved = true
			if err := l.saveCheckpoint(best); err != nil {
				return history, err
			}
		default:
			stall++
			if score < best.Score*(1-RegressionTolerance) {
				it.Regressed = true
				if _, err := l.dict.Restore(ctx, best.Snapshot); err != nil {
					return history, fmt.Errorf("iteration %d: restore checkpoint: %w", n, err)
				}
				it.Restored = true
			}
		}
		it.Stall = stall

		stop := ""
		switch {
		case eval.Metrics.Coverage >= l.opts.TargetCoverage && score >= l.opts.TargetScore:
			stop = StopSuccess
		case stall >= StallLimit:
			stop = StopStalled
		case n == l.opts.MaxIterations && !it.Improved:
			stop = StopStalled
		case n == l.opts.MaxIterations:
			stop = StopMaxIterations
		}

		if stop == "" && !it.Restored {
			report, err := l.suggest(ctx, eval.Unmapped)
			if err != nil {
				return history, fmt.Errorf("iteration %d: %w", n, err)
			}
			it.Suggestions = report
		}
		it.Duration = l.opts.Now().Sub(started).String()

		history.Iterations = append(history.Iterations, it)
		if err := l.writeJSON(fmt.Sprintf("iteration-%03d.json", n), it); err != nil {
			return history, err
		}

		log.Info().
			Int("iteration", n).
			Float64("score", score).
			Float64("coverage", eval.Metrics.Coverage).
			Bool("improved", it.Improved).
			Bool("restored", it.Restored).
			Int("stall", stall).
			Msg("Improvement iteration finished")

		if stop != "" {
			history.StopReason = stop
			history.Succeeded = stop == StopSuccess
			break
		}
	}

	if best != nil {
		history.BestScore = best.Score
		history.BestIteration = best.Iteration
		history.BestVersion = best.Version
	}
	history.FinalVersion = l.dict.Current().Version()
	if err := l.writeJSON("summary.json", history); err != nil {
		return history, err
	}
	log.Info().
		Str("stop_reason", history.StopReason).
		Float64("best_score", history.BestScore).
		Str("dictionary_version", history.FinalVersion).
		Msg("Improvement run finished")
	return history, nil
}

// suggest asks for a field per unmapped header and applies the answers in
// one dictionary update. Suggester failures skip the header.
func (l *Loop) suggest(ctx context.Context, unmapped []UnmappedHeader) (dictionary.ApplyReport, error) {
	if len(unmapped) > maxSuggestion {
		unmapped = unmapped[:maxSuggestion]
	}
	var suggestions []dictionary.Suggestion
	for _, h := range unmapped {
		sg, ok, err := l.suggester.Suggest(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return dictionary.ApplyReport{}, ctx.Err()
			}
			logging.FromContext(ctx).Warn().Err(err).Str("header", h.Header).Msg("No suggestion for header")
			continue
		}
		if ok {
			suggestions = append(suggestions, sg)
		}
	}
	if len(suggestions) == 0 {
		return dictionary.ApplyReport{}, nil
	}

	var report dictionary.ApplyReport
	_, err := l.dict.Update(ctx, func(doc *dictionary.Document) (bool, error) {
		report = dictionary.ApplySuggestions(doc, suggestions, l.opts.PendingFloor, l.opts.Now())
		return report.Changed(), nil
	})
	if err != nil {
		return report, fmt.Errorf("apply suggestions: %w", err)
	}
	return report, nil
}

func (l *Loop) saveCheckpoint(cp *Checkpoint) error {
	dir := l.ArtifactDir()
	if dir == "" {
		return nil
	}
	if err := dictionary.Save(filepath.Join(dir, "best-checkpoint.yaml"), cp.Snapshot); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return l.writeJSON("best-checkpoint.json", cp)
}

func (l *Loop) writeJSON(name string, v any) error {
	dir := l.ArtifactDir()
	if dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
