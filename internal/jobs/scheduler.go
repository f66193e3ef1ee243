package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// StaleCanceller cancels unpaid orders left Pending for too long.
type StaleCanceller interface {
	CancelStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

func NewScheduler() *Scheduler {
	log := zap.L().Named("jobs")
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log: log,
	}
}

// AddStaleOrderSweep registers the sweep on schedule. A non-positive ttl
// leaves the sweep disabled.
func (s *Scheduler) AddStaleOrderSweep(schedule string, ttl time.Duration, svc StaleCanceller) error {
	if ttl <= 0 {
		s.log.Info("stale order sweep disabled")
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() { SweepStaleOrders(s.log, svc, ttl) })
	if err != nil {
		return fmt.Errorf("schedule stale order sweep %q: %w", schedule, err)
	}
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for a running job up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func SweepStaleOrders(log *zap.Logger, svc StaleCanceller, ttl time.Duration) {
	defer func() {
		if err := recover(); err != nil {
			log.Error("stale order sweep panic", zap.Any("panic", err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := svc.CancelStale(ctx, ttl)
	if err != nil {
		log.Error("stale order sweep failed", zap.Int("cancelled", n), zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("stale orders cancelled", zap.Int("cancelled", n))
	}
}
