package worker

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLockKey = "booking-expiry-sweep"

// BookingSweeper runs one expiry pass over the bookings table.
type BookingSweeper interface {
	ExpirySweep(ctx context.Context) (*service.SweepResult, error)
}

// Locker is a distributed mutex. An empty token means another holder.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// ExpirySweeper schedules the expiry pass. With several replicas running,
// the Redis lock keeps one pass in flight at a time.
type ExpirySweeper struct {
	cron     *cron.Cron
	schedule string
	bookings BookingSweeper
	locker   Locker
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewExpirySweeper creates a sweeper for a cron schedule such as "@every 1m"
func NewExpirySweeper(schedule string, bookings BookingSweeper, locker Locker) *ExpirySweeper {
	return &ExpirySweeper{
		cron:     cron.New(),
		schedule: schedule,
		bookings: bookings,
		locker:   locker,
		lockTTL:  5 * time.Minute,
		logger:   util.GetLogger(),
	}
}

// Start schedules the job and blocks until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Expiry sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule expiry sweep %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("Expiry sweeper started", zap.String("schedule", s.schedule))

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("Expiry sweeper stopped")
	return nil
}

// RunOnce performs a single sweep. It returns nil, nil when another replica
// holds the lock.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (*service.SweepResult, error) {
	if s.locker != nil {
		token, err := s.locker.AcquireLock(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if token == "" {
			s.logger.Debug("Expiry sweep skipped, lock held elsewhere")
			return nil, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), sweepLockKey, token); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	res, err := s.bookings.ExpirySweep(ctx)
	if err != nil {
		return nil, err
	}

	if res.ExpiredRequests+res.ExpiredUnpaid+res.Completed > 0 {
		s.logger.Info("Expiry sweep finished",
			zap.Int("expired_requests", res.ExpiredRequests),
			zap.Int("expired_unpaid", res.ExpiredUnpaid),
			zap.Int("completed", res.Completed),
			zap.Duration("took", time.Since(start)))
	}
	return res, nil
}
