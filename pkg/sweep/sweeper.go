// Package sweep periodically diagnoses every project and optionally repairs
// or freezes the ones that drifted.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Catalog is the slice of governance.Service the sweep drives.
type Catalog interface {
	ListProjects(ctx context.Context) ([]string, error)
	Diagnose(ctx context.Context, projectID string) (*models.DriftReport, error)
	Repair(ctx context.Context, projectID string, mode models.RepairMode, actor string) (*models.RepairReport, error)
	Freeze(ctx context.Context, projectID, actor, reason string) (*models.FreezeRecord, error)
}

// Locker is satisfied by *redis.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	Concurrency int
	LockTTL     time.Duration
	AutoRepair  bool
	AutoFreeze  bool
	Actor       string
}

type ProjectResult struct {
	ProjectID  string `json:"project_id"`
	Findings   int    `json:"findings"`
	Repaired   int    `json:"repaired"`
	Unresolved int    `json:"unresolved"`
	Frozen     bool   `json:"frozen"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Report struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Projects   []ProjectResult `json:"projects"`
}

type Sweeper struct {
	catalog Catalog
	locker  Locker
	cfg     Config
	logger  ectologger.Logger
}

// NewSweeper builds a sweeper. A nil locker runs without cross-replica locking.
func NewSweeper(catalog Catalog, locker Locker, cfg Config, logger ectologger.Logger) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Actor == "" {
		cfg.Actor = "drift-sweep"
	}
	return &Sweeper{
		catalog: catalog,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run sweeps every project once. Per-project failures are reported in the
// result; only listing projects or cancellation fails the run.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "sweep.Sweeper.Run")
	defer span.End()

	report := &Report{StartedAt: time.Now().UTC()}
	projects, err := s.catalog.ListProjects(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		return nil, err
	}

	results := make([]ProjectResult, len(projects))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, projectID := range projects {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result := s.sweepProject(gctx, projectID)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.SweepRuns.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	report.Projects = results
	report.FinishedAt = time.Now().UTC()
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"projects":    len(projects),
		"auto_repair": s.cfg.AutoRepair,
		"auto_freeze": s.cfg.AutoFreeze,
	}).Info("Drift sweep finished")
	return report, nil
}

// RunEvery sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration, onReport func(*Report)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithContext(ctx).WithError(err).Error("Drift sweep failed")
		} else if onReport != nil {
			onReport(report)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepProject(ctx context.Context, projectID string) ProjectResult {
	result := ProjectResult{ProjectID: projectID}
	work := func(ctx context.Context) error {
		return s.inspect(ctx, projectID, &result)
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, "sweep:"+projectID, s.cfg.LockTTL, work)
	} else {
		err = work(ctx)
	}

	log := s.logger.WithContext(ctx).WithField("project_id", projectID)
	switch {
	case errors.Is(err, redis.ErrLockNotAcquired):
		result.Skipped = true
		log.Debug("Project is being swept by another replica")
	case err != nil:
		result.Error = err.Error()
		log.WithError(err).Warn("Drift sweep of project failed")
	}
	return result
}

func (s *Sweeper) inspect(ctx context.Context, projectID string, result *ProjectResult) error {
	diagnosis, err := s.catalog.Diagnose(ctx, projectID)
	if err != nil {
		return err
	}
	result.Findings = len(diagnosis.Findings)
	if diagnosis.Clean() {
		return nil
	}

	recommendFreeze := diagnosis.RecommendFreeze
	result.Unresolved = diagnosis.Count(models.FindingCycle) +
		diagnosis.Count(models.FindingBrokenIDPointer) +
		diagnosis.Count(models.FindingDanglingCanonical)
	if s.cfg.AutoRepair {
		repair, err := s.catalog.Repair(ctx, projectID, models.RepairApply, s.cfg.Actor)
		switch {
		case fernerrors.IsKind(err, fernerrors.KindFrozen):
			result.Frozen = true
			return nil
		case err != nil:
			return err
		}
		for _, a := range repair.Actions {
			if a.Applied {
				result.Repaired++
			}
		}
		result.Unresolved = len(repair.Unresolved)
		recommendFreeze = repair.RecommendFreeze
	}

	if s.cfg.AutoFreeze && recommendFreeze {
		reason := fmt.Sprintf("drift sweep found %d findings a human must resolve", result.Unresolved)
		record, err := s.catalog.Freeze(ctx, projectID, s.cfg.Actor, reason)
		if err != nil {
			return err
		}
		result.Frozen = record.Active
	}
	return nil
}
