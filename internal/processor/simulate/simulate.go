package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"examflow/internal/config"
	"examflow/internal/logging"
	"examflow/internal/processor"
	"examflow/internal/services"
	"examflow/internal/task"
)

// Options tune the simulated processors.
type Options struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64
	// Seed fixes the random source; zero picks a time-based seed.
	Seed uint64
	// ItemConcurrency bounds per-task item parallelism.
	ItemConcurrency int
}

// OptionsFromConfig maps application config onto simulator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinDelay:        time.Duration(cfg.Simulation.MinDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(cfg.Simulation.MaxDelayMs) * time.Millisecond,
		FailureRate:     cfg.Simulation.FailureRate,
		Seed:            uint64(cfg.Simulation.Seed),
		ItemConcurrency: cfg.Scheduler.MaxConcurrentItemsPerTask,
	}
}

// Simulator produces random but reproducible processor behaviour.
type Simulator struct {
	opts   Options
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New constructs a Simulator.
func New(opts Options, logger *slog.Logger) *Simulator {
	if opts.ItemConcurrency <= 0 {
		opts.ItemConcurrency = 1
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulator{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "simulate"),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Register binds a simulated processor for every built-in task type.
func (s *Simulator) Register(reg *processor.Registry) error {
	bindings := map[task.Type]processor.Func{
		task.TypeIngest:              s.ingest,
		task.TypeQualityAnalysis:     s.quality,
		task.TypeIdentityRecognition: s.identity,
		task.TypeStructureAnalysis:   s.structure,
		task.TypeValidation:          s.validate,
		task.TypeEnhancement:         s.enhance,
	}
	for _, typ := range task.AllTypes() {
		if err := reg.Register(typ, bindings[typ]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) between(lo, hi float64) float64 {
	return lo + (hi-lo)*s.float()
}

func (s *Simulator) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *Simulator) delay() time.Duration {
	span := s.opts.MaxDelay - s.opts.MinDelay
	if span <= 0 {
		return s.opts.MinDelay
	}
	return s.opts.MinDelay + time.Duration(s.float()*float64(span))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// eachItem runs fn for every item with bounded parallelism and reports
// progress after each one. A single injected failure aborts the attempt.
func (s *Simulator) eachItem(ctx context.Context, t task.Task, items []string, progress processor.ProgressFunc, fn func(i int, item string)) error {
	total := len(items)
	if total == 0 {
		return services.Wrap(services.ErrValidation, "simulate", string(t.Type), "task has no items", nil)
	}
	if progress != nil {
		progress(task.Progress{Total: total})
	}

	failAt := -1
	if s.opts.FailureRate > 0 && s.float() < s.opts.FailureRate {
		failAt = s.intN(total)
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ItemConcurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := sleep(gctx, s.delay()); err != nil {
				return err
			}
			if i == failAt {
				return services.Wrap(services.ErrTransient, "simulate", string(t.Type),
					fmt.Sprintf("simulated failure on %s", item), nil)
			}
			fn(i, item)
			mu.Lock()
			done++
			if progress != nil {
				progress(task.Progress{Total: total, Completed: done, Current: item})
			}
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (s *Simulator) ingest(ctx context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
	files := t.Payload.Files
	items := make([]processor.IngestedItem, len(files))
	err := s.eachItem(ctx, t, files, progress, func(i int, file string) {
		items[i] = processor.IngestedItem{
			ItemID: ItemID(t.Payload.ExamID, file),
			File:   file,
			Pages:  1 + s.intN(4),
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("ingest finished",
		logging.String(logging.FieldTaskID, t.ID),
		logging.Int("items", len(items)),
	)
	return processor.IngestResult{Items: items}, nil
}

func (s *Simulator) quality(ctx context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
	scores := make([]processor.QualityScore, len(t.Payload.ItemIDs))
	err := s.eachItem(ctx, t, t.Payload.ItemIDs, progress, func(i int, id string) {
		scores[i] = processor.QualityScore{ItemID: id, Score: s.between(0.45, 1)}
	})
	if err != nil {
		return nil, err
	}
	return processor.QualityResult{Scores: scores}, nil
}

func (s *Simulator) identity(ctx context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
	matches := make([]processor.IdentityMatch, len(t.Payload.ItemIDs))
	err := s.eachItem(ctx, t, t.Payload.ItemIDs, progress, func(i int, id string) {
		matches[i] = processor.IdentityMatch{
			ItemID:     id,
			StudentID:  fmt.Sprintf("S%04d", 1+s.intN(9999)),
			Confidence: s.between(0.65, 1),
		}
	})
	if err != nil {
		return nil, err
	}
	return processor.IdentityResult{Matches: matches}, nil
}

func (s *Simulator) structure(ctx context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
	regions := make([]processor.StructureRegion, len(t.Payload.ItemIDs))
	err := s.eachItem(ctx, t, t.Payload.ItemIDs, progress, func(i int, id string) {
		regions[i] = processor.StructureRegion{ItemID: id, Regions: 3 + s.intN(6)}
	})
	if err != nil {
		return nil, err
	}
	return processor.StructureResult{Items: regions}, nil
}

func (s *Simulator) validate(ctx context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
	var (
		mu     sync.Mutex
		result processor.ValidationResult
	)
	err := s.eachItem(ctx, t, t.Payload.ItemIDs, progress, func(int, string) {
		ok := s.float() > 0.1
		mu.Lock()
		if ok {
			result.Valid++
		} else {
			result.Invalid++
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Simulator) enhance(ctx context.Context, t task.Task, progress processor.ProgressFunc) (any, error) {
	items := t.Payload.ItemIDs
	err := s.eachItem(ctx, t, items, progress, func(int, string) {})
	if err != nil {
		return nil, err
	}
	return processor.EnhancementResult{Enhanced: len(items)}, nil
}

var itemNamespace = uuid.MustParse("6f1c3e5a-8d2b-4c47-9a0e-2b7d5f4e1c90")

// ItemID derives a stable item id from the exam and file name so retried
// ingest attempts produce the same ids.
func ItemID(examID, file string) string {
	key := strings.TrimSpace(examID) + "/" + filepath.ToSlash(strings.TrimSpace(file))
	return uuid.NewSHA1(itemNamespace, []byte(key)).String()
}
