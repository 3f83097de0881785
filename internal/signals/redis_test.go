package signals

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartalarm/internal/models"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *SignalCache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewSignalCache(redisClient, "smartalarm:signal:", zap.NewNop())
	return mr, cache
}

func TestSignalCache_FetchWeather_Success(t *testing.T) {
	mr, cache := setupTestCache(t)

	ownerID := "user-123"
	sig := &models.WeatherSignal{
		Condition:    "rain",
		TemperatureC: 6.5,
		Severity:     0.4,
		Timestamp:    time.Now().Unix(),
	}
	jsonData, err := json.Marshal(sig)
	require.NoError(t, err)
	mr.Set("smartalarm:signal:user-123:weather", string(jsonData))

	got, err := cache.FetchWeather(context.Background(), ownerID)

	require.NoError(t, err)
	assert.Equal(t, "rain", got.Condition)
	assert.Equal(t, 6.5, got.TemperatureC)
}

func TestSignalCache_FetchWeather_Missing(t *testing.T) {
	_, cache := setupTestCache(t)

	_, err := cache.FetchWeather(context.Background(), "user-absent")

	assert.ErrorIs(t, err, ErrNoSignal)
}

func TestSignalCache_FetchCalendar(t *testing.T) {
	mr, cache := setupTestCache(t)

	now := time.Date(2026, 8, 26, 6, 0, 0, 0, time.UTC)
	sig := &models.CalendarSignal{
		Events: []models.CalendarEvent{
			{Title: "Early flight", StartsAt: now.Add(2 * time.Hour)},
		},
	}
	jsonData, err := json.Marshal(sig)
	require.NoError(t, err)
	mr.Set("smartalarm:signal:user-123:calendar", string(jsonData))

	got, err := cache.FetchCalendar(context.Background(), "user-123")

	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "Early flight", got.Events[0].Title)
}

func TestSignalCache_FetchCustom(t *testing.T) {
	mr, cache := setupTestCache(t)

	mr.Set("smartalarm:signal:user-123:custom", `{"commute_delay": 18.5}`)

	got, err := cache.FetchCustom(context.Background(), "user-123")

	require.NoError(t, err)
	assert.Equal(t, 18.5, got["commute_delay"])
}

func TestSignalCache_MalformedPayload(t *testing.T) {
	mr, cache := setupTestCache(t)

	mr.Set("smartalarm:signal:user-123:sleep_debt", "{not json")

	_, err := cache.FetchSleepDebt(context.Background(), "user-123")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSignal)
}
