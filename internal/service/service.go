package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"smartalarm/internal/adapter"
	"smartalarm/internal/config"
	"smartalarm/internal/evaluator"
	"smartalarm/internal/models"
	"smartalarm/internal/notifier"
	"smartalarm/internal/repository"
	"smartalarm/internal/scheduler"
	"smartalarm/internal/signals"
)

// AlarmService 智能闹钟引擎服务（整合各层）
type AlarmService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
	validate    *validator.Validate

	// 各层组件
	alarmRepo      *repository.AlarmRepository
	feedbackRepo   *repository.FeedbackRepository
	adaptationRepo *repository.AdaptationRepository
	signalCache    *signals.SignalCache
	collector      *signals.Collector
	scheduler      *scheduler.Scheduler
	adapter        *adapter.Adapter
	notifier       *notifier.MQTTNotifier
}

// NewAlarmService 创建智能闹钟引擎服务
func NewAlarmService(cfg *config.Config, logger *zap.Logger) (*AlarmService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 测试 Redis 连接
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	alarmRepo := repository.NewAlarmRepository(db, logger)
	feedbackRepo := repository.NewFeedbackRepository(db, logger)
	adaptationRepo := repository.NewAdaptationRepository(db, logger)

	// 4. 创建信号层
	signalCache := signals.NewSignalCache(redisClient, cfg.Engine.SignalKeyPrefix, logger)
	collector := signals.NewCollector(
		signals.Providers{
			Weather:   signalCache,
			Calendar:  signalCache,
			SleepDebt: signalCache,
			Behavior:  signalCache,
			Emergency: signalCache,
			Custom:    signalCache,
		},
		time.Duration(cfg.Engine.SignalTimeoutSeconds)*time.Second,
		logger,
	)

	// 5. 创建调度器
	sched := scheduler.NewScheduler(
		alarmRepo,
		feedbackRepo,
		adaptationRepo,
		collector,
		scheduler.Options{
			WindowParams: evaluator.WindowParams{
				DefaultMinutes:    cfg.Engine.DefaultWindowMinutes,
				FloorMinutes:      cfg.Engine.WindowFloorMinutes,
				CeilingMinutes:    cfg.Engine.WindowCeilingMinutes,
				FeedbackWindow:    cfg.Engine.FeedbackWindowSize,
				PreferenceRepeats: cfg.Engine.PreferenceRepeats,
				PreferenceBias:    cfg.Engine.PreferenceBias,
				StddevFactor:      cfg.Engine.PatternStddevFactor,
			},
			CalendarLookahead: time.Duration(cfg.Engine.CalendarLookaheadHours) * time.Hour,
		},
		logger,
	)

	// 6. 创建 MQTT 发布器（Broker 为空时禁用）
	var mqttNotifier *notifier.MQTTNotifier
	if cfg.MQTT.Broker != "" {
		mqttNotifier, err = notifier.NewMQTTNotifier(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create mqtt notifier: %w", err)
		}
	}

	// 7. 创建实时自适应循环
	var adapterNotifier adapter.Notifier
	if mqttNotifier != nil {
		adapterNotifier = mqttNotifier
	}
	adapt := adapter.NewAdapter(
		alarmRepo,
		adaptationRepo,
		sched,
		adapterNotifier,
		adapter.Options{
			TickInterval:   time.Duration(cfg.Engine.TickSeconds) * time.Second,
			DailyCeiling:   cfg.Engine.DailyCeiling,
			MinConfidence:  cfg.Engine.MinConfidence,
			MaxConcurrency: cfg.Engine.MaxConcurrency,
		},
		logger,
	)

	return &AlarmService{
		config:         cfg,
		db:             db,
		redisClient:    redisClient,
		logger:         logger,
		validate:       validator.New(),
		alarmRepo:      alarmRepo,
		feedbackRepo:   feedbackRepo,
		adaptationRepo: adaptationRepo,
		signalCache:    signalCache,
		collector:      collector,
		scheduler:      sched,
		adapter:        adapt,
		notifier:       mqttNotifier,
	}, nil
}

// Start 启动实时自适应循环（阻塞直到 ctx 取消）
func (s *AlarmService) Start(ctx context.Context) error {
	s.logger.Info("Starting smart alarm engine",
		zap.Int("tick_seconds", s.config.Engine.TickSeconds),
		zap.Int("daily_ceiling", s.config.Engine.DailyCeiling),
	)
	return s.adapter.Run(ctx)
}

// Stop 停止服务并释放连接
func (s *AlarmService) Stop() error {
	s.logger.Info("Stopping smart alarm engine")

	if s.notifier != nil {
		s.notifier.Close()
	}

	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	// 关闭 Redis 连接
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// ScheduleNext 立即评估并持久化一个闹钟的下一次触发
// Host-facing entry point, without the adapter's confidence and ceiling
// gates.
func (s *AlarmService) ScheduleNext(ctx context.Context, alarmID string) (*scheduler.Plan, *models.AdaptationRecord, error) {
	return s.scheduler.ScheduleNext(ctx, alarmID)
}

// RecordFeedback 记录一条起床反馈并更新受影响规则的有效性得分
// The feedback selects the adaptation applied on its date; only the rules
// that contributed to that adaptation learn from it.
func (s *AlarmService) RecordFeedback(ctx context.Context, fb *models.WakeUpFeedback) error {
	if fb.AlarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}
	if err := s.validate.Struct(fb); err != nil {
		return fmt.Errorf("invalid feedback: %w", err)
	}
	if fb.FeedbackID == "" {
		fb.FeedbackID = uuid.New().String()
	}

	if err := s.feedbackRepo.CreateFeedback(ctx, fb); err != nil {
		return err
	}

	alarm, err := s.alarmRepo.GetAlarm(ctx, fb.AlarmID)
	if err != nil {
		return fmt.Errorf("failed to load alarm for learning: %w", err)
	}

	record, err := s.adaptationRepo.LatestOnDate(ctx, fb.AlarmID, fb.Date)
	if err != nil {
		return fmt.Errorf("failed to load adaptation for learning: %w", err)
	}

	updates := evaluator.ScoreUpdates(record, alarm.Conditions, *fb, alarm.LearningFactor)
	if len(updates) == 0 {
		return nil
	}

	if err := s.alarmRepo.UpdateConditionScores(ctx, fb.AlarmID, updates); err != nil {
		return fmt.Errorf("failed to persist effectiveness scores: %w", err)
	}

	s.logger.Info("Effectiveness scores updated from feedback",
		zap.String("alarm_id", fb.AlarmID),
		zap.String("feedback_id", fb.FeedbackID),
		zap.Int("conditions_updated", len(updates)),
	)
	return nil
}

// AdaptationHistory 查询闹钟的调整审计记录
func (s *AlarmService) AdaptationHistory(ctx context.Context, alarmID string, limit int) ([]models.AdaptationRecord, error) {
	return s.adaptationRepo.ListForAlarm(ctx, alarmID, limit)
}

// AdapterStatus 查询某闹钟的自适应内存状态
func (s *AlarmService) AdapterStatus(alarmID string) (adapter.Status, bool) {
	return s.adapter.StatusFor(alarmID)
}
