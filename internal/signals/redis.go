package signals

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"smartalarm/internal/models"
)

// SignalCache 从 Redis 读取宿主推送的信号快照
// The host writes JSON blobs under <prefix><owner_id>:<source>; the engine
// only ever reads them. A missing key is ErrNoSignal, not a failure.
type SignalCache struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewSignalCache 创建信号缓存读取器
func NewSignalCache(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *SignalCache {
	return &SignalCache{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

// Key 构建信号缓存键
func (c *SignalCache) Key(ownerID, source string) string {
	return fmt.Sprintf("%s%s:%s", c.keyPrefix, ownerID, source)
}

func (c *SignalCache) get(ctx context.Context, ownerID, source string, dest interface{}) error {
	key := c.Key(ownerID, source)
	val, err := c.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrNoSignal
		}
		return fmt.Errorf("failed to get signal cache %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal signal %s: %w", key, err)
	}
	return nil
}

// FetchWeather 读取天气信号
func (c *SignalCache) FetchWeather(ctx context.Context, ownerID string) (*models.WeatherSignal, error) {
	var sig models.WeatherSignal
	if err := c.get(ctx, ownerID, models.SourceWeather, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// FetchCalendar 读取日历信号
func (c *SignalCache) FetchCalendar(ctx context.Context, ownerID string) (*models.CalendarSignal, error) {
	var sig models.CalendarSignal
	if err := c.get(ctx, ownerID, models.SourceCalendar, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// FetchSleepDebt 读取睡眠负债信号
func (c *SignalCache) FetchSleepDebt(ctx context.Context, ownerID string) (*models.SleepDebtSignal, error) {
	var sig models.SleepDebtSignal
	if err := c.get(ctx, ownerID, models.SourceSleepDebt, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// FetchBehavior 读取行为信号
func (c *SignalCache) FetchBehavior(ctx context.Context, ownerID string) (*models.BehaviorSignal, error) {
	var sig models.BehaviorSignal
	if err := c.get(ctx, ownerID, models.SourceBehavior, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// FetchEmergency 读取紧急覆盖信号
func (c *SignalCache) FetchEmergency(ctx context.Context, ownerID string) (*models.EmergencySignal, error) {
	var sig models.EmergencySignal
	if err := c.get(ctx, ownerID, models.SourceEmergency, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// FetchCustom 读取自定义命名信号
func (c *SignalCache) FetchCustom(ctx context.Context, ownerID string) (map[string]float64, error) {
	var sig map[string]float64
	if err := c.get(ctx, ownerID, models.SourceCustom, &sig); err != nil {
		return nil, err
	}
	return sig, nil
}
