package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stackmason/tenantd/pkg/async"
	"github.com/stackmason/tenantd/pkg/audit"
	"github.com/stackmason/tenantd/pkg/identity"
	"github.com/stackmason/tenantd/pkg/observability"
	"github.com/stackmason/tenantd/pkg/slug"
	"github.com/stackmason/tenantd/pkg/tenants"
)

// Ledger is the request ledger and tenant store the orchestrator drives.
// *tenants.Store satisfies it.
type Ledger interface {
	CreateRequest(ctx context.Context, req *tenants.ProvisioningRequest) error
	GetRequestByKey(ctx context.Context, key string) (*tenants.ProvisioningRequest, error)
	SetRequestStatus(ctx context.Context, id int64, status tenants.RequestStatus) error
	SetRequestSlug(ctx context.Context, id int64, slug string) error
	MarkRequestRolledBack(ctx context.Context, id int64, errorCode, errorMessage string) error
	CompleteRequest(ctx context.Context, id int64, tenantID int64, slug, ownerIdentityID string, duration time.Duration) error
	FailRequest(ctx context.Context, id int64, errorCode, errorMessage string, duration time.Duration) error
	IsSlugAvailable(ctx context.Context, slug string, excludeRequestID int64) (bool, error)
	ProvisionTenantAtomic(ctx context.Context, data tenants.TenantData, ownerIdentityID string) (int64, error)
	EnqueueIdentityCleanup(ctx context.Context, identityID, login string, requestID int64) error
}

// IdentityService converges a login onto exactly one external identity.
// *identity.Ensurer satisfies it.
type IdentityService interface {
	EnsureOwnerIdentity(ctx context.Context, login string, metadata map[string]string) (*identity.EnsureResult, error)
}

// IdentityDeleter removes an external identity; compensation only.
type IdentityDeleter interface {
	Delete(ctx context.Context, id string) error
}

// Reservations is the optional short-TTL slug claim layer.
// *tenants.Reservations satisfies it.
type Reservations interface {
	Claim(ctx context.Context, slug string, requestID int64) (bool, error)
	Release(ctx context.Context, slug string, requestID int64) error
}

// MetricsRecorder appends the per-attempt metrics row. *audit.DBLogger
// satisfies it.
type MetricsRecorder interface {
	RecordMetrics(ctx context.Context, m *audit.AttemptMetrics) error
}

// Config carries the orchestrator's optional collaborators and knobs.
type Config struct {
	Validator           *slug.Validator
	Reservations        Reservations
	Recorder            MetricsRecorder
	Metrics             *observability.Metrics
	Logger              *observability.Logger
	CompensationTimeout time.Duration
}

// Orchestrator runs the provisioning state machine:
//
//	pending → validating → creating_identity → writing_records → completed
//
// with failed and rolled_back as the failure exits. It holds no in-process
// lock across the identity calls or the atomic write; concurrent requests
// racing on a login or slug are resolved by the identity provider's
// uniqueness enforcement and the database unique constraints.
type Orchestrator struct {
	ledger      Ledger
	identities  IdentityService
	deleter     IdentityDeleter
	auditor     audit.Logger
	validator   atomic.Pointer[slug.Validator]
	reserver    Reservations
	recorder    MetricsRecorder
	metrics     *observability.Metrics
	logger      *observability.Logger
	compTimeout time.Duration

	// spawn launches best-effort compensation; tests replace it with a
	// synchronous runner.
	spawn func(ctx context.Context, timeout time.Duration, name string, fn func(context.Context) error)
}

// NewOrchestrator creates an orchestrator. ledger, identities, deleter, and
// auditor are required; everything in cfg is optional.
func NewOrchestrator(ledger Ledger, identities IdentityService, deleter IdentityDeleter, auditor audit.Logger, cfg Config) *Orchestrator {
	validator := cfg.Validator
	if validator == nil {
		validator = slug.NewValidator(slug.DefaultRules())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	compTimeout := cfg.CompensationTimeout
	if compTimeout == 0 {
		compTimeout = 10 * time.Second
	}

	o := &Orchestrator{
		ledger:      ledger,
		identities:  identities,
		deleter:     deleter,
		auditor:     auditor,
		reserver:    cfg.Reservations,
		recorder:    cfg.Recorder,
		metrics:     cfg.Metrics,
		logger:      logger,
		compTimeout: compTimeout,
		spawn:       async.SafeGo,
	}
	o.validator.Store(validator)
	return o
}

// SetValidator swaps the slug validator. Used on rules-file hot reload; a
// request in flight keeps the validator it started with.
func (o *Orchestrator) SetValidator(v *slug.Validator) {
	if v != nil {
		o.validator.Store(v)
	}
}

// Provision runs one provisioning request to a terminal state. A non-nil
// Result always reflects a terminal outcome, either fresh or replayed; an
// error means the request could not be taken to a terminal state at all
// (malformed input, an in-progress duplicate, or ledger unavailability).
func (o *Orchestrator) Provision(ctx context.Context, req Request) (*Result, error) {
	if err := req.checkRequired(); err != nil {
		return nil, err
	}

	start := time.Now()

	row, fresh, err := o.claimRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if !fresh {
		// Replay of a stored terminal outcome: identical response, zero
		// side effects, no new audit rows.
		if o.metrics != nil {
			o.metrics.IdempotentReplaysTotal.Inc()
		}
		return resultFromRequest(row, true), nil
	}

	log := o.logger.WithFields(map[string]interface{}{
		"request_id": row.ID,
		"admin_id":   req.AdminID,
		"tenant":     req.TenantName,
	})
	log.Info("provisioning request accepted")

	o.logStage(ctx, audit.StageSuccess(row.ID, req.AdminID, audit.StageReceived, map[string]any{
		"idempotency_key": req.IdempotencyKey,
		"candidate_slug":  req.CandidateSlug,
		"owner_login":     req.OwnerLogin,
	}, 0))

	// pending → validating
	stageStart := time.Now()
	o.setStatus(ctx, row.ID, tenants.StatusValidating)

	validator := o.validator.Load()
	candidate := slug.Sanitize(req.CandidateSlug, validator.MaxLength())
	if err := validator.Validate(candidate); err != nil {
		o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageValidated, err, map[string]any{
			"candidate": req.CandidateSlug,
			"sanitized": candidate,
		}, time.Since(stageStart)))
		return o.fail(ctx, row, req, CodeInvalidSlug, err.Error(), start), nil
	}

	if err := slug.ValidateLogin(req.OwnerLogin); err != nil {
		o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageValidated, err, map[string]any{
			"owner_login": req.OwnerLogin,
		}, time.Since(stageStart)))
		return o.fail(ctx, row, req, CodeInvalidSlug, err.Error(), start), nil
	}

	// Record the sanitized slug before the availability check so concurrent
	// requests' record-of-intent queries see this one, whatever raw form
	// their candidates arrived in.
	if err := o.ledger.SetRequestSlug(ctx, row.ID, candidate); err != nil {
		log.WithError(err).Error("failed to record sanitized slug")
	}

	available, err := o.ledger.IsSlugAvailable(ctx, candidate, row.ID)
	if err != nil {
		log.WithError(err).Error("availability check failed")
		o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageValidated, err, map[string]any{
			"slug": candidate,
		}, time.Since(stageStart)))
		return o.fail(ctx, row, req, CodeUnknown, o.unknownMessage(row.ID), start), nil
	}
	if available && o.reserver != nil {
		claimed, err := o.reserver.Claim(ctx, candidate, row.ID)
		if err != nil {
			// Reservations are an optimization over the unique
			// constraint; a redis failure must not fail provisioning.
			log.WithError(err).Warn("slug reservation unavailable")
		} else {
			if o.metrics != nil {
				result := "claimed"
				if !claimed {
					result = "contended"
				}
				o.metrics.ReservationsTotal.WithLabelValues(result).Inc()
			}
			available = claimed
		}
	}
	if o.metrics != nil {
		result := "available"
		if !available {
			result = "taken"
		}
		o.metrics.SlugChecksTotal.WithLabelValues(result).Inc()
	}
	if !available {
		err := fmt.Errorf("slug %q is already in use", candidate)
		o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageValidated, err, map[string]any{
			"slug": candidate,
		}, time.Since(stageStart)))
		return o.fail(ctx, row, req, CodeDuplicateSlug, err.Error(), start), nil
	}

	o.logStage(ctx, audit.StageSuccess(row.ID, req.AdminID, audit.StageValidated, map[string]any{
		"slug": candidate,
	}, time.Since(stageStart)))

	// validating → creating_identity
	stageStart = time.Now()
	o.setStatus(ctx, row.ID, tenants.StatusCreatingIdentity)

	ensured, err := o.identities.EnsureOwnerIdentity(ctx, req.OwnerLogin, map[string]string{
		"display_name": req.OwnerDisplayName,
		"tenant_slug":  candidate,
	})
	if err != nil {
		o.releaseReservation(ctx, candidate, row.ID)
		o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageIdentityEnsured, err, map[string]any{
			"owner_login": req.OwnerLogin,
		}, time.Since(stageStart)))
		if identity.IsCreationFailed(err) {
			return o.fail(ctx, row, req, CodeIdentityCreationFailed,
				fmt.Sprintf("owner identity for %q could not be created", req.OwnerLogin), start), nil
		}
		log.WithError(err).Error("identity provider error")
		return o.fail(ctx, row, req, CodeUnknown, o.unknownMessage(row.ID), start), nil
	}
	if o.metrics != nil && ensured.Attempts > 1 {
		o.metrics.IdentityRetriesTotal.Add(float64(ensured.Attempts - 1))
	}

	o.logStage(ctx, audit.StageSuccess(row.ID, req.AdminID, audit.StageIdentityEnsured, map[string]any{
		"identity_id": ensured.ID,
		"created":     ensured.Created,
		"attempts":    ensured.Attempts,
	}, time.Since(stageStart)))

	// creating_identity → writing_records
	stageStart = time.Now()
	o.setStatus(ctx, row.ID, tenants.StatusWritingRecords)

	tenantID, err := o.ledger.ProvisionTenantAtomic(ctx, tenants.TenantData{
		Name:             req.TenantName,
		Slug:             candidate,
		OwnerDisplayName: req.OwnerDisplayName,
		Configuration:    req.Configuration,
	}, ensured.ID)
	if err != nil {
		o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageRecordsWritten, err, map[string]any{
			"slug": candidate,
		}, time.Since(stageStart)))
		return o.rollback(ctx, row, req, candidate, ensured, err, start), nil
	}

	o.logStage(ctx, audit.StageSuccess(row.ID, req.AdminID, audit.StageRecordsWritten, map[string]any{
		"tenant_id": tenantID,
		"slug":      candidate,
	}, time.Since(stageStart)))

	// writing_records → completed
	duration := time.Since(start)
	if err := o.ledger.CompleteRequest(ctx, row.ID, tenantID, candidate, ensured.ID, duration); err != nil {
		// The tenant exists; only the ledger row is stale. Report success
		// and let the janitor expire the row if the update never lands.
		log.WithError(err).Error("failed to record completed request")
	}

	o.logStage(ctx, &audit.Event{
		RequestID:  row.ID,
		TenantID:   &tenantID,
		AdminID:    req.AdminID,
		Stage:      audit.StageCompleted,
		Status:     audit.StatusSuccess,
		Payload:    map[string]any{"slug": candidate, "identity_id": ensured.ID},
		DurationMS: duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	})
	o.recordAttempt(ctx, row.ID, duration, true, ensured.Attempts, "")
	if o.metrics != nil {
		o.metrics.ProvisionAttemptsTotal.WithLabelValues("completed").Inc()
	}
	log.WithFields(map[string]interface{}{"tenant_id": tenantID, "slug": candidate}).
		Info("tenant provisioned")

	return &Result{
		RequestID:       row.ID,
		Success:         true,
		TenantID:        tenantID,
		Slug:            candidate,
		OwnerIdentityID: ensured.ID,
	}, nil
}

// claimRequest applies the idempotency gate. It returns the ledger row and
// whether this call owns a fresh attempt. Inserting the row is the atomic
// claim on the key; losing that race means re-reading the winner's row.
func (o *Orchestrator) claimRequest(ctx context.Context, req Request) (*tenants.ProvisioningRequest, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := o.ledger.GetRequestByKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			if existing.Status.Terminal() {
				return existing, false, nil
			}
			return nil, false, &InProgressError{RequestID: existing.ID}
		case errors.Is(err, tenants.ErrRequestNotFound):
			// fall through to the insert
		default:
			return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
		}

		row := &tenants.ProvisioningRequest{
			IdempotencyKey:    req.IdempotencyKey,
			RequestingAdminID: req.AdminID,
			TenantName:        req.TenantName,
			CandidateSlug:     req.CandidateSlug,
			OwnerLogin:        req.OwnerLogin,
			OwnerDisplayName:  req.OwnerDisplayName,
			Configuration:     req.Configuration,
		}
		err = o.ledger.CreateRequest(ctx, row)
		if err == nil {
			return row, true, nil
		}
		if !errors.Is(err, tenants.ErrDuplicateKey) {
			return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		// Lost the insert race; loop once to read the winner's row.
	}
	return nil, false, fmt.Errorf("idempotency key %q could not be claimed", req.IdempotencyKey)
}

// rollback handles an atomic-write failure: the transaction left zero
// records, so the only possible orphan is an identity created this attempt.
// That identity gets one best-effort deletion and is always flagged for
// manual cleanup, because the provider gives no synchronous guarantee the
// delete took effect.
func (o *Orchestrator) rollback(ctx context.Context, row *tenants.ProvisioningRequest, req Request, candidate string, ensured *identity.EnsureResult, writeErr error, start time.Time) *Result {
	code, message := o.translateWriteError(row.ID, candidate, writeErr)

	// The rolled_back update carries the error outcome: if the process dies
	// before the final failed transition, replays of this key still get a
	// meaningful error code instead of an empty one.
	if err := o.ledger.MarkRequestRolledBack(ctx, row.ID, string(code), message); err != nil {
		o.logger.WithError(err).Error("failed to record rolled back request")
	}
	o.releaseReservation(ctx, candidate, row.ID)
	if o.metrics != nil {
		o.metrics.RollbacksTotal.Inc()
	}

	o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageRolledBack, writeErr, map[string]any{
		"slug":             candidate,
		"identity_created": ensured.Created,
	}, 0))

	if ensured.Created {
		if err := o.ledger.EnqueueIdentityCleanup(ctx, ensured.ID, req.OwnerLogin, row.ID); err != nil {
			o.logger.WithError(err).Error("failed to enqueue identity cleanup")
		}
		o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageCleanupFlagged, writeErr, map[string]any{
			"identity_id":             ensured.ID,
			"manual_cleanup_required": true,
		}, 0))

		deleter, logger := o.deleter, o.logger
		o.spawn(async.Detach(ctx), o.compTimeout, "identity compensation", func(ctx context.Context) error {
			if err := deleter.Delete(ctx, ensured.ID); err != nil {
				logger.WithError(err).
					WithField("identity_id", ensured.ID).
					Warn("compensating identity delete failed; cleanup queue will retry")
				return err
			}
			return nil
		})
	}

	return o.fail(ctx, row, req, code, message, start)
}

func (o *Orchestrator) translateWriteError(requestID int64, candidate string, err error) (ErrorCode, string) {
	var dup *tenants.DuplicateSlugError
	var ref *tenants.InvalidReferenceError
	switch {
	case errors.As(err, &dup):
		return CodeDuplicateSlug, fmt.Sprintf("slug %q is already in use", candidate)
	case errors.As(err, &ref):
		return CodeInvalidReference, ref.Error()
	default:
		// Constraint violations and everything else stay internal; the
		// caller gets a correlation id, the audit log keeps the detail.
		return CodeUnknown, o.unknownMessage(requestID)
	}
}

// fail records the failed terminal outcome and builds the caller response.
func (o *Orchestrator) fail(ctx context.Context, row *tenants.ProvisioningRequest, req Request, code ErrorCode, message string, start time.Time) *Result {
	duration := time.Since(start)
	if err := o.ledger.FailRequest(ctx, row.ID, string(code), message, duration); err != nil {
		o.logger.WithError(err).Error("failed to record failed request")
	}

	o.logStage(ctx, audit.StageFailure(row.ID, req.AdminID, audit.StageFailed,
		errors.New(message), map[string]any{"error_code": string(code)}, duration))
	o.recordAttempt(ctx, row.ID, duration, false, 0, string(code))
	if o.metrics != nil {
		o.metrics.ProvisionAttemptsTotal.WithLabelValues(string(code)).Inc()
	}

	return &Result{
		RequestID: row.ID,
		ErrorCode: code,
		Message:   message,
	}
}

// unknownMessage is the only thing a caller sees for unclassified
// failures; the request id doubles as the correlation id into the audit
// log.
func (o *Orchestrator) unknownMessage(requestID int64) string {
	return fmt.Sprintf("an internal error occurred; reference request %d", requestID)
}

func (o *Orchestrator) setStatus(ctx context.Context, id int64, status tenants.RequestStatus) {
	if err := o.ledger.SetRequestStatus(ctx, id, status); err != nil {
		o.logger.WithError(err).
			WithField("request_id", id).
			Errorf("failed to record %s status", status)
	}
}

// logStage writes one audit row. Audit failures are logged and swallowed:
// losing an audit row is preferable to failing a provisioning attempt that
// already had side effects.
func (o *Orchestrator) logStage(ctx context.Context, event *audit.Event) {
	if o.metrics != nil && event.DurationMS > 0 {
		o.metrics.StageDuration.WithLabelValues(string(event.Stage)).
			Observe(float64(event.DurationMS) / 1000)
	}
	if err := o.auditor.Log(ctx, event); err != nil {
		o.logger.WithError(err).
			WithField("stage", string(event.Stage)).
			Error("failed to write audit event")
	}
}

func (o *Orchestrator) recordAttempt(ctx context.Context, requestID int64, duration time.Duration, success bool, attempts uint64, failureReason string) {
	if o.recorder == nil {
		return
	}
	var retries uint64
	if attempts > 1 {
		retries = attempts - 1
	}
	err := o.recorder.RecordMetrics(ctx, &audit.AttemptMetrics{
		RequestID:     requestID,
		Duration:      duration,
		Success:       success,
		RetryCount:    retries,
		FailureReason: failureReason,
	})
	if err != nil {
		o.logger.WithError(err).Error("failed to record attempt metrics")
	}
}

func (o *Orchestrator) releaseReservation(ctx context.Context, candidate string, requestID int64) {
	if o.reserver == nil {
		return
	}
	if err := o.reserver.Release(ctx, candidate, requestID); err != nil {
		o.logger.WithError(err).Warn("failed to release slug reservation")
	}
}
