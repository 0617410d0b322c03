package janitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stackmason/tenantd/pkg/async"
	"github.com/stackmason/tenantd/pkg/audit"
	"github.com/stackmason/tenantd/pkg/config"
	"github.com/stackmason/tenantd/pkg/observability"
	"github.com/stackmason/tenantd/pkg/tenants"
)

// janitorAdminID tags audit events written by background sweeps rather than
// an administrator's request.
const janitorAdminID = "janitor"

const (
	cleanupBatchSize = 100
	cleanupWorkers   = 4
	cleanupTimeout   = 10 * time.Second
)

// Store is the ledger surface the janitor sweeps. *tenants.Store satisfies it.
type Store interface {
	PendingIdentityCleanups(ctx context.Context, limit int) ([]*tenants.IdentityCleanup, error)
	ResolveIdentityCleanup(ctx context.Context, id int64) error
	BumpIdentityCleanupAttempt(ctx context.Context, id int64) error
	ExpireStaleRequests(ctx context.Context, maxAge time.Duration) (int64, error)
}

// IdentityDeleter removes identities from the external provider.
type IdentityDeleter interface {
	Delete(ctx context.Context, id string) error
}

// Janitor runs the scheduled background sweeps: retrying flagged identity
// cleanups and expiring requests abandoned mid-flight.
type Janitor struct {
	store    Store
	deleter  IdentityDeleter
	recorder audit.Logger
	metrics  *observability.Metrics
	logger   *observability.Logger
	cfg      config.JanitorConfig
	cron     *cron.Cron
}

// New creates a janitor; metrics may be nil.
func New(store Store, deleter IdentityDeleter, recorder audit.Logger, metrics *observability.Metrics, logger *observability.Logger, cfg config.JanitorConfig) *Janitor {
	return &Janitor{
		store:    store,
		deleter:  deleter,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		cron:     cron.New(),
	}
}

// Start schedules the sweeps and starts the scheduler.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.CleanupSchedule, func() {
		if err := j.SweepIdentityCleanups(context.Background()); err != nil {
			j.logger.WithError(err).Error("identity cleanup sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule identity cleanup sweep: %w", err)
	}

	if _, err := j.cron.AddFunc(j.cfg.ExpireSchedule, func() {
		if err := j.SweepStaleRequests(context.Background()); err != nil {
			j.logger.WithError(err).Error("stale request sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule stale request sweep: %w", err)
	}

	j.cron.Start()
	j.logger.WithFields(map[string]interface{}{
		"cleanup_schedule": j.cfg.CleanupSchedule,
		"expire_schedule":  j.cfg.ExpireSchedule,
	}).Info("janitor started")
	return nil
}

// Stop halts the scheduler and waits for running sweeps to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

// SweepIdentityCleanups retries removal of identities flagged after failed
// provisioning attempts. Entries that exhausted MaxCleanupTries stay flagged
// for manual cleanup and are skipped.
func (j *Janitor) SweepIdentityCleanups(ctx context.Context) error {
	pending, err := j.store.PendingIdentityCleanups(ctx, cleanupBatchSize)
	if err != nil {
		j.sweepDone("identity_cleanup", false)
		return err
	}

	var retryable []*tenants.IdentityCleanup
	for _, c := range pending {
		if c.Attempts >= j.cfg.MaxCleanupTries {
			continue
		}
		retryable = append(retryable, c)
	}

	var resolved atomic.Int64
	errs := async.Batch(ctx, retryable, cleanupWorkers, "identity cleanup", cleanupTimeout,
		func(ctx context.Context, c *tenants.IdentityCleanup) error {
			start := time.Now()
			if err := j.deleter.Delete(ctx, c.IdentityID); err != nil {
				if bumpErr := j.store.BumpIdentityCleanupAttempt(ctx, c.ID); bumpErr != nil {
					j.logger.WithError(bumpErr).Error("failed to bump cleanup attempt counter")
				}
				j.logCleanup(ctx, c, err, time.Since(start))
				return fmt.Errorf("identity %s: %w", c.IdentityID, err)
			}
			if err := j.store.ResolveIdentityCleanup(ctx, c.ID); err != nil {
				// The identity is gone; the entry will resolve as a no-op
				// next sweep because Delete treats 404 as success.
				return fmt.Errorf("failed to resolve cleanup for identity %s: %w", c.IdentityID, err)
			}
			resolved.Add(1)
			j.logCleanup(ctx, c, nil, time.Since(start))
			return nil
		})

	if j.metrics != nil {
		j.metrics.CleanupQueueDepth.Set(float64(len(pending)) - float64(resolved.Load()))
	}
	j.sweepDone("identity_cleanup", len(errs) == 0)

	if len(errs) > 0 {
		return fmt.Errorf("identity cleanup sweep: %d of %d removals failed: %v", len(errs), len(retryable), errs[0])
	}
	return nil
}

// SweepStaleRequests fails requests stuck in a non-terminal state past the
// configured age, so idempotent replays and polls get a terminal answer.
func (j *Janitor) SweepStaleRequests(ctx context.Context) error {
	expired, err := j.store.ExpireStaleRequests(ctx, j.cfg.RequestMaxAge)
	if err != nil {
		j.sweepDone("expire_requests", false)
		return err
	}

	if expired > 0 {
		j.logger.WithField("expired", expired).Warn("expired stale provisioning requests")
		if j.metrics != nil {
			j.metrics.ExpiredRequestsTotal.Add(float64(expired))
		}
	}
	j.sweepDone("expire_requests", true)
	return nil
}

func (j *Janitor) logCleanup(ctx context.Context, c *tenants.IdentityCleanup, deleteErr error, elapsed time.Duration) {
	payload := map[string]any{
		"identity_id": c.IdentityID,
		"login":       c.Login,
		"attempts":    c.Attempts + 1,
	}
	var event *audit.Event
	if deleteErr != nil {
		event = audit.StageFailure(c.RequestID, janitorAdminID, audit.StageCleanupRetried, deleteErr, payload, elapsed)
	} else {
		event = audit.StageSuccess(c.RequestID, janitorAdminID, audit.StageCleanupRetried, payload, elapsed)
	}
	if err := j.recorder.Log(ctx, event); err != nil {
		j.logger.WithError(err).Error("failed to record cleanup audit event")
	}
}

func (j *Janitor) sweepDone(kind string, ok bool) {
	if j.metrics == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	j.metrics.JanitorSweepsTotal.WithLabelValues(kind, status).Inc()
}
