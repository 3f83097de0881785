package signals

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartalarm/internal/models"
)

// Collector 按评估周期采集全部信号，带每源超时
// A provider error or timeout degrades that source to "no signal" and is
// recorded in the bundle's Failures list; it never fails the collection.
type Collector struct {
	providers Providers
	timeout   time.Duration
	logger    *zap.Logger
}

// NewCollector 创建信号采集器
func NewCollector(providers Providers, timeout time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		providers: providers,
		timeout:   timeout,
		logger:    logger,
	}
}

// Collect 采集一个用户的全部可用信号
func (c *Collector) Collect(ctx context.Context, ownerID string) *models.SignalBundle {
	bundle := &models.SignalBundle{}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	fetch := func(source string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			err := fn(fctx)
			if err == nil || errors.Is(err, ErrNoSignal) {
				return
			}
			c.logger.Warn("Signal provider failed",
				zap.String("owner_id", ownerID),
				zap.String("source", source),
				zap.Error(err),
			)
			mu.Lock()
			bundle.Failures = append(bundle.Failures, source)
			mu.Unlock()
		}()
	}

	if c.providers.Weather != nil {
		fetch(models.SourceWeather, func(fctx context.Context) error {
			sig, err := c.providers.Weather.FetchWeather(fctx, ownerID)
			if err != nil {
				return err
			}
			mu.Lock()
			bundle.Weather = sig
			mu.Unlock()
			return nil
		})
	}
	if c.providers.Calendar != nil {
		fetch(models.SourceCalendar, func(fctx context.Context) error {
			sig, err := c.providers.Calendar.FetchCalendar(fctx, ownerID)
			if err != nil {
				return err
			}
			mu.Lock()
			bundle.Calendar = sig
			mu.Unlock()
			return nil
		})
	}
	if c.providers.SleepDebt != nil {
		fetch(models.SourceSleepDebt, func(fctx context.Context) error {
			sig, err := c.providers.SleepDebt.FetchSleepDebt(fctx, ownerID)
			if err != nil {
				return err
			}
			mu.Lock()
			bundle.SleepDebt = sig
			mu.Unlock()
			return nil
		})
	}
	if c.providers.Behavior != nil {
		fetch(models.SourceBehavior, func(fctx context.Context) error {
			sig, err := c.providers.Behavior.FetchBehavior(fctx, ownerID)
			if err != nil {
				return err
			}
			mu.Lock()
			bundle.Behavior = sig
			mu.Unlock()
			return nil
		})
	}
	if c.providers.Emergency != nil {
		fetch(models.SourceEmergency, func(fctx context.Context) error {
			sig, err := c.providers.Emergency.FetchEmergency(fctx, ownerID)
			if err != nil {
				return err
			}
			mu.Lock()
			bundle.Emergency = sig
			mu.Unlock()
			return nil
		})
	}
	if c.providers.Custom != nil {
		fetch(models.SourceCustom, func(fctx context.Context) error {
			sig, err := c.providers.Custom.FetchCustom(fctx, ownerID)
			if err != nil {
				return err
			}
			mu.Lock()
			bundle.Custom = sig
			mu.Unlock()
			return nil
		})
	}

	wg.Wait()
	return bundle
}
