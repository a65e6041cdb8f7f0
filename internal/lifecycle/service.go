package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/metrics"
)

// DefaultMaxConflictRetries bounds how often a mutation is reapplied after
// losing a version race.
const DefaultMaxConflictRetries = 3

const tracerName = "github.com/JakeFAU/crawler-manager/internal/lifecycle"

// Config controls Service behavior.
type Config struct {
	// Topic receives one AddressSuppliedMessage per seed address on start.
	Topic string
	// MaxConflictRetries is the number of reloads after a version conflict
	// before the conflict is returned to the caller.
	MaxConflictRetries int
}

// Service implements the crawler lifecycle on top of a Repository.
type Service struct {
	repo      crawler.Repository
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	dispatchDuration otelmetric.Float64Histogram
}

// New constructs a Service.
func New(
	repo crawler.Repository,
	publisher crawler.Publisher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.Topic == "" {
		cfg.Topic = crawler.DefaultSupplyAddressTopic
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = DefaultMaxConflictRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatchDuration, err := otel.Meter(tracerName).Float64Histogram(
		"crawler.dispatch.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("Time spent publishing the seed addresses of one start call."),
	)
	if err != nil {
		logger.Warn("dispatch duration histogram unavailable", zap.Error(err))
	}
	return &Service{
		repo:             repo,
		publisher:        publisher,
		ids:              ids,
		clock:            clock,
		cfg:              cfg,
		logger:           logger,
		dispatchDuration: dispatchDuration,
	}
}

// Create validates and stores a new crawler under a generated id.
func (s *Service) Create(ctx context.Context, name string, cfg crawler.Config) (rec crawler.Record, err error) {
	defer func() { observe("create", err) }()

	if verr := crawler.NewValidationError(crawler.ValidateRequest(name, &cfg)); verr != nil {
		return crawler.Record{}, verr
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Record{}, fmt.Errorf("generate crawler id: %w", err)
	}
	return s.insert(ctx, id, name, cfg)
}

// CreateWithID stores a new crawler under a caller supplied id. An empty id
// falls back to Create.
func (s *Service) CreateWithID(
	ctx context.Context,
	id, name string,
	cfg crawler.Config,
) (rec crawler.Record, err error) {
	if id == "" {
		return s.Create(ctx, name, cfg)
	}
	defer func() { observe("create", err) }()

	if verr := crawler.NewValidationError(crawler.ValidateRequest(name, &cfg)); verr != nil {
		return crawler.Record{}, verr
	}
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("check crawler %s: %w", id, err)
	}
	if exists {
		return crawler.Record{}, fmt.Errorf("crawler %s: %w", id, crawler.ErrAlreadyExists)
	}
	return s.insert(ctx, id, name, cfg)
}

func (s *Service) insert(ctx context.Context, id, name string, cfg crawler.Config) (crawler.Record, error) {
	rec, err := s.repo.Insert(ctx, crawler.NewRecord(id, name, cfg, s.now()))
	if err != nil {
		return crawler.Record{}, fmt.Errorf("insert crawler %s: %w", id, err)
	}
	s.logger.Info("crawler created", zap.String("crawler_id", rec.ID), zap.String("name", rec.Name))
	return rec, nil
}

// Get returns the crawler or crawler.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (crawler.Record, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("find crawler %s: %w", id, err)
	}
	return rec, nil
}

// List returns every crawler in no particular order.
func (s *Service) List(ctx context.Context) ([]crawler.Record, error) {
	recs, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list crawlers: %w", err)
	}
	return recs, nil
}

// Status returns only the crawler's lifecycle state.
func (s *Service) Status(ctx context.Context, id string) (crawler.Status, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Update replaces name and config, leaving status and createdAt untouched.
func (s *Service) Update(
	ctx context.Context,
	id, name string,
	cfg crawler.Config,
) (rec crawler.Record, err error) {
	defer func() { observe("update", err) }()

	if verr := crawler.NewValidationError(crawler.ValidateRequest(name, &cfg)); verr != nil {
		return crawler.Record{}, verr
	}
	rec, err = s.mutate(ctx, "update", id, func(current crawler.Record) crawler.Record {
		return current.WithDefinition(name, cfg)
	})
	if err != nil {
		return crawler.Record{}, err
	}
	s.logger.Info("crawler updated", zap.String("crawler_id", id), zap.Int64("version", rec.Version))
	return rec, nil
}

// Start moves the crawler to STARTED and dispatches its seed addresses.
func (s *Service) Start(ctx context.Context, id string) (crawler.Record, error) {
	rec, _, err := s.StartWithReport(ctx, id)
	return rec, err
}

// StartWithReport is Start that also returns the dispatch outcome. Dispatch
// failures never fail the call; they are only reflected in the report.
func (s *Service) StartWithReport(
	ctx context.Context,
	id string,
) (rec crawler.Record, report DispatchReport, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.start")
	span.SetAttributes(attribute.String("crawler.id", id))
	defer span.End()
	defer func() { observe("start", err) }()

	rec, err = s.mutate(ctx, "start", id, func(current crawler.Record) crawler.Record {
		return current.WithStatus(crawler.StatusStarted)
	})
	if err != nil {
		span.RecordError(err)
		return crawler.Record{}, DispatchReport{}, err
	}
	report = s.dispatch(ctx, rec)
	span.SetAttributes(
		attribute.Int("dispatch.published", report.Published),
		attribute.Int("dispatch.skipped", report.Skipped),
		attribute.Int("dispatch.failed", report.Failed),
	)
	s.logger.Info("crawler started",
		zap.String("crawler_id", id),
		zap.Int("published", report.Published),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return rec, report, nil
}

// Stop moves the crawler to STOPPED. No messages are published.
func (s *Service) Stop(ctx context.Context, id string) (rec crawler.Record, err error) {
	defer func() { observe("stop", err) }()

	rec, err = s.mutate(ctx, "stop", id, func(current crawler.Record) crawler.Record {
		return current.WithStatus(crawler.StatusStopped)
	})
	if err != nil {
		return crawler.Record{}, err
	}
	s.logger.Info("crawler stopped", zap.String("crawler_id", id))
	return rec, nil
}

// Delete removes the crawler. Unknown ids are not an error.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	defer func() { observe("delete", err) }()

	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("delete crawler %s: %w", id, err)
	}
	s.logger.Info("crawler deleted", zap.String("crawler_id", id))
	return nil
}

// mutate loads the record, applies fn and saves the result. A version conflict
// reloads and reapplies fn up to MaxConflictRetries times.
func (s *Service) mutate(
	ctx context.Context,
	op, id string,
	fn func(crawler.Record) crawler.Record,
) (crawler.Record, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return crawler.Record{}, fmt.Errorf("%s crawler %s: %w", op, id, err)
		}
		next := fn(current)
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version
		next.UpdatedAt = s.touch(current.UpdatedAt)

		saved, err := s.repo.Save(ctx, next)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, crawler.ErrVersionConflict) {
			return crawler.Record{}, fmt.Errorf("%s crawler %s: %w", op, id, err)
		}
		metrics.ObserveVersionConflict(op)
		if attempt >= s.cfg.MaxConflictRetries {
			return crawler.Record{}, fmt.Errorf("%s crawler %s after %d attempts: %w", op, id, attempt+1, err)
		}
		s.logger.Debug("version conflict, retrying",
			zap.String("crawler_id", id),
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
		)
	}
}

// now is truncated to microseconds, the coarsest precision of any backend.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// touch returns a timestamp strictly after prev.
func (s *Service) touch(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func observe(op string, err error) {
	metrics.ObserveOperation(op, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, crawler.ErrValidation):
		return "invalid"
	case errors.Is(err, crawler.ErrNotFound):
		return "not_found"
	case errors.Is(err, crawler.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, crawler.ErrVersionConflict):
		return "conflict"
	default:
		return "error"
	}
}
