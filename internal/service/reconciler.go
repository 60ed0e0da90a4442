package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/watermetrics/kcwater-usage-worker/internal/config"
	"github.com/watermetrics/kcwater-usage-worker/internal/db"
	"github.com/watermetrics/kcwater-usage-worker/internal/kcwater"
	"github.com/watermetrics/kcwater-usage-worker/internal/logging"
	"github.com/watermetrics/kcwater-usage-worker/internal/mq"
	"github.com/watermetrics/kcwater-usage-worker/internal/quality"
	"go.uber.org/zap"
)

const (
	// sourceTag identifies this worker as the origin of its statistic series.
	sourceTag = "kcwater"
	// unitCubicFeet is the native volume unit of the meter readings.
	unitCubicFeet = "ft³"
)

// StatisticID derives the stable series identifier for an account.
func StatisticID(accountNumber string) string {
	return fmt.Sprintf("%s:%s_water_consumption", sourceTag, accountNumber)
}

// UsageClient fetches meter readings from the utility API.
type UsageClient interface {
	AccountNumber(ctx context.Context) (string, error)
	FetchReadings(ctx context.Context, start, end time.Time) ([]kcwater.Reading, error)
	Location() *time.Location
}

// StatisticsStore persists cumulative statistic series. AppendPoints must be
// idempotent on (statistic id, start timestamp): the reconciler re-submits
// boundary points whose sums it recomputes from the anchor baseline, and the
// store is trusted to overwrite rather than duplicate them.
type StatisticsStore interface {
	LastPoint(ctx context.Context, statisticID string) (*db.StatisticPoint, error)
	FirstPointSince(ctx context.Context, statisticID string, from time.Time) (*db.StatisticPoint, error)
	AppendPoints(ctx context.Context, meta db.StatisticMetadata, points []db.StatisticPoint) error
	ClearStatistics(ctx context.Context, statisticIDs []string) error
}

// EventPublisher announces appended statistics to downstream consumers.
type EventPublisher interface {
	PublishStatisticsAppended(ctx context.Context, event mq.StatisticsAppendedEvent, routingKey string) error
}

// ReconcilerService merges freshly fetched readings into the persisted
// cumulative series. It holds no reconciliation state between ticks; every
// run decides first-run vs incremental from store contents alone.
type ReconcilerService struct {
	client    UsageClient
	store     StatisticsStore
	publisher EventPublisher
	checker   *quality.Checker
	cfg       *config.Config
	logger    *zap.Logger
	now       func() time.Time

	// touched tracks the statistic ids this process has written, used only
	// for optional cleanup.
	touched map[string]struct{}
}

// NewReconcilerService creates a new reconciler service
func NewReconcilerService(
	client UsageClient,
	store StatisticsStore,
	publisher EventPublisher,
	checker *quality.Checker,
	cfg *config.Config,
	logger *zap.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		client:    client,
		store:     store,
		publisher: publisher,
		checker:   checker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		touched:   make(map[string]struct{}),
	}
}

// Run executes one reconciliation tick. Errors from the client or the store
// propagate unchanged; a failed tick leaves the store as it was and the
// scheduler retries on the next interval.
func (s *ReconcilerService) Run(ctx context.Context) error {
	accountNumber, err := s.client.AccountNumber(ctx)
	if err != nil {
		return err
	}

	statisticID := StatisticID(accountNumber)
	s.touched[statisticID] = struct{}{}
	logger := logging.WithAccount(s.logger, accountNumber)

	last, err := s.store.LastPoint(ctx, statisticID)
	if err != nil {
		return err
	}

	now := s.now().In(s.client.Location())
	end := now.AddDate(0, 0, -1)

	var start time.Time
	var baselineSum float64
	var lastPersisted time.Time

	if last == nil {
		// First run: wide lookback, baseline zero, every reading is new.
		logger.Debug("no persisted points, reconciling from scratch",
			zap.String("statistic_id", statisticID))
		start = now.AddDate(0, 0, -s.cfg.Polling.FirstRunLookbackDays)
	} else {
		start = now.AddDate(0, 0, -s.cfg.Polling.IncrementalLookbackDays)
	}

	readings, err := s.client.FetchReadings(ctx, start, end)
	if err != nil {
		return err
	}

	if last != nil {
		if len(readings) == 0 {
			logger.Info("no readings in incremental window, nothing to reconcile",
				zap.String("statistic_id", statisticID))
			return nil
		}

		// Anchor the baseline on the persisted point at or after the
		// earliest fetched reading. The windowing is deliberately kept
		// aligned with the fetch window; when no point falls inside it,
		// the series tail itself is the anchor.
		anchor, err := s.store.FirstPointSince(ctx, statisticID, earliestReadTime(readings))
		if err != nil {
			return err
		}
		if anchor == nil {
			anchor = last
		}
		baselineSum = anchor.Sum
		lastPersisted = anchor.Start
	}

	for _, flag := range s.checker.Inspect(readings) {
		logger.Warn("suspect reading",
			zap.Time("read_time", flag.Reading.ReadTime),
			zap.Float64("amount", flag.Reading.RawConsumption),
			zap.String("reason", flag.Reason),
		)
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].ReadTime.Before(readings[j].ReadTime)
	})

	sum := baselineSum
	var points []db.StatisticPoint
	for _, reading := range readings {
		if !lastPersisted.IsZero() && !reading.ReadTime.After(lastPersisted) {
			logger.Debug("skipping already persisted reading", zap.Time("read_time", reading.ReadTime))
			continue
		}
		sum += reading.RawConsumption
		points = append(points, db.StatisticPoint{
			Start: reading.ReadTime,
			State: reading.RawConsumption,
			Sum:   sum,
		})
	}

	meta := db.StatisticMetadata{
		StatisticID: statisticID,
		Source:      sourceTag,
		Name:        fmt.Sprintf("Kansas City Water %s Consumption", accountNumber),
		Unit:        unitCubicFeet,
		HasMean:     false,
		HasSum:      true,
	}

	// Submit once per tick so a cancellation mid-tick never leaves a
	// half-written batch behind.
	logger.Debug("appending statistic points",
		zap.Int("count", len(points)),
		zap.String("statistic_id", statisticID),
	)
	if err := s.store.AppendPoints(ctx, meta, points); err != nil {
		return err
	}

	if len(points) > 0 && s.publisher != nil {
		event := mq.StatisticsAppendedEvent{
			EventID:        uuid.New().String(),
			AccountNumber:  accountNumber,
			StatisticID:    statisticID,
			PointsAppended: len(points),
			TotalSum:       sum,
			WindowStart:    start,
			WindowEnd:      end,
		}
		if err := s.publisher.PublishStatisticsAppended(ctx, event, s.cfg.RabbitMQ.EventsRoutingKey); err != nil {
			// The store commit already happened; a lost event is not
			// worth failing the tick over.
			logger.Error("failed to publish statistics event", zap.Error(err))
		}
	}

	logger.Info("reconciliation tick finished",
		zap.String("statistic_id", statisticID),
		zap.Int("points_appended", len(points)),
		zap.Float64("total_sum", sum),
	)

	return nil
}

// ClearStatistics removes every series this process has written.
func (s *ReconcilerService) ClearStatistics(ctx context.Context) error {
	ids := make([]string, 0, len(s.touched))
	for id := range s.touched {
		ids = append(ids, id)
	}
	return s.store.ClearStatistics(ctx, ids)
}

func earliestReadTime(readings []kcwater.Reading) time.Time {
	earliest := readings[0].ReadTime
	for _, reading := range readings[1:] {
		if reading.ReadTime.Before(earliest) {
			earliest = reading.ReadTime
		}
	}
	return earliest
}
