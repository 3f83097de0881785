package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartalarm/internal/models"
	"smartalarm/internal/repository"
	"smartalarm/internal/scheduler"
)

// Outcome 一次评估周期的结果状态
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeSkipped    Outcome = "skipped"    // daily ceiling reached
	OutcomeSuppressed Outcome = "suppressed" // confidence below threshold
	OutcomeNoChange   Outcome = "no_change"
	OutcomeOverlap    Outcome = "overlap" // previous evaluation still in flight
	OutcomeError      Outcome = "error"
)

// Result 单个闹钟一次评估的结果
type Result struct {
	AlarmID    string
	Outcome    Outcome
	Record     *models.AdaptationRecord
	Confidence float64
	Err        error
}

// Status 单个闹钟的内存快照
// Not persisted; rebuilt from adaptation history on first touch each day.
type Status struct {
	LastEvaluated    time.Time
	AdaptationsToday int
	Date             string // local date the counter belongs to
	Confidence       float64
	EmergencyActive  bool

	inFlight bool
	counted  bool // counter rebuilt from storage for Date
}

// AlarmLister 可自适应闹钟列表
type AlarmLister interface {
	ListAdaptiveAlarmIDs(ctx context.Context) ([]string, error)
}

// AdaptationCounter 每日已应用次数查询（用于启动/跨天重建计数器）
type AdaptationCounter interface {
	CountAppliedOnDate(ctx context.Context, alarmID, date string) (int, error)
}

// Engine 增强调度器入口
type Engine interface {
	Evaluate(ctx context.Context, alarmID string) (*scheduler.Plan, error)
	Commit(ctx context.Context, plan *scheduler.Plan) (*models.AdaptationRecord, error)
}

// Notifier 已应用调整的对外通知（可选）
type Notifier interface {
	PublishAdaptation(rec *models.AdaptationRecord) error
}

// Options 自适应循环配置
type Options struct {
	TickInterval   time.Duration
	DailyCeiling   int
	MinConfidence  float64
	MaxConcurrency int
	Now            func() time.Time
	// Ticker is the injectable tick source; tests replace it with a
	// manual channel instead of waiting on real timers.
	Ticker func(d time.Duration) (<-chan time.Time, func())
}

// Adapter 实时自适应后台循环
// Periodically re-evaluates every adaptive alarm, enforcing the daily
// adaptation ceiling and the minimum-confidence gate. Evaluation is
// serialized per alarm id and fanned out across alarms.
type Adapter struct {
	alarms   AlarmLister
	counts   AdaptationCounter
	engine   Engine
	notifier Notifier
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	status map[string]*Status
}

// NewAdapter 创建自适应循环
func NewAdapter(alarms AlarmLister, counts AdaptationCounter, engine Engine, notifier Notifier, opts Options, logger *zap.Logger) *Adapter {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 15 * time.Minute
	}
	if opts.DailyCeiling <= 0 {
		opts.DailyCeiling = 5
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Ticker == nil {
		opts.Ticker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	return &Adapter{
		alarms:   alarms,
		counts:   counts,
		engine:   engine,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		status:   make(map[string]*Status),
	}
}

// Run 启动自适应循环，直到 ctx 取消
// ctx cancellation stops scheduling new ticks; in-flight per-alarm
// evaluations run on a detached context so a shutdown never aborts a
// persist halfway through.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("Real-time adapter started",
		zap.Duration("tick_interval", a.opts.TickInterval),
		zap.Int("daily_ceiling", a.opts.DailyCeiling),
		zap.Float64("min_confidence", a.opts.MinConfidence),
	)

	tick, stop := a.opts.Ticker(a.opts.TickInterval)
	defer stop()

	// First pass immediately, then on every tick.
	a.RunTick(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Real-time adapter stopped")
			return nil
		case <-tick:
			a.RunTick(ctx)
		}
	}
}

// RunTick 对所有可自适应闹钟执行一轮评估（同步，直到本轮完成）
func (a *Adapter) RunTick(ctx context.Context) []Result {
	ids, err := a.alarms.ListAdaptiveAlarmIDs(ctx)
	if err != nil {
		a.logger.Error("Failed to list adaptive alarms",
			zap.Error(err),
		)
		return nil
	}

	results := make([]Result, len(ids))
	g := &errgroup.Group{}
	g.SetLimit(a.opts.MaxConcurrency)

	// Detached context: cancellation must not abort an in-flight persist.
	evalCtx := context.WithoutCancel(ctx)

	for i, id := range ids {
		i, id := i, id
		if ctx.Err() != nil {
			results[i] = Result{AlarmID: id, Outcome: OutcomeSkipped}
			continue
		}
		g.Go(func() error {
			results[i] = a.EvaluateAlarm(evalCtx, id)
			return nil
		})
	}
	g.Wait()

	return results
}

// EvaluateAlarm 评估单个闹钟并按门控提交
// Idle -> Evaluating -> (Applied | Skipped | Suppressed) -> Idle.
func (a *Adapter) EvaluateAlarm(ctx context.Context, alarmID string) Result {
	st, ok := a.begin(alarmID)
	if !ok {
		// Previous evaluation still running: no duplicate queueing.
		return Result{AlarmID: alarmID, Outcome: OutcomeOverlap}
	}
	defer a.end(alarmID)

	res := a.evaluateOnce(ctx, alarmID, st)
	if errors.Is(res.Err, repository.ErrVersionConflict) {
		// A concurrent write won; retry once against the fresh record.
		res = a.evaluateOnce(ctx, alarmID, st)
	}

	if res.Err != nil {
		// Storage-class failure: log and let the next tick retry.
		a.logger.Error("Alarm evaluation failed",
			zap.String("alarm_id", alarmID),
			zap.Error(res.Err),
		)
	}
	return res
}

func (a *Adapter) evaluateOnce(ctx context.Context, alarmID string, st *Status) Result {
	now := a.opts.Now()
	today := now.Format("2006-01-02")
	a.rollDate(ctx, alarmID, st, today)

	plan, err := a.engine.Evaluate(ctx, alarmID)
	if err != nil {
		return Result{AlarmID: alarmID, Outcome: OutcomeError, Err: err}
	}

	a.mu.Lock()
	st.LastEvaluated = now
	st.Confidence = plan.Aggregate.Confidence
	st.EmergencyActive = plan.Aggregate.Emergency
	count := st.AdaptationsToday
	a.mu.Unlock()

	if !plan.Changed() {
		return Result{AlarmID: alarmID, Outcome: OutcomeNoChange, Confidence: plan.Aggregate.Confidence}
	}

	// A bypass plan (smart logic disabled) must reach its base time no
	// matter what; the adaptation gates only apply to smart adjustments.
	emergency := plan.Aggregate.Emergency
	if plan.TimeChanged && !emergency && !plan.Bypass {
		// Low-confidence adaptations are discarded even though computed.
		if plan.Aggregate.Confidence < a.opts.MinConfidence {
			a.commitWindowOnly(ctx, plan)
			return Result{AlarmID: alarmID, Outcome: OutcomeSuppressed, Confidence: plan.Aggregate.Confidence}
		}
		if count >= a.opts.DailyCeiling {
			a.commitWindowOnly(ctx, plan)
			a.logger.Info("Daily adaptation ceiling reached",
				zap.String("alarm_id", alarmID),
				zap.Int("ceiling", a.opts.DailyCeiling),
			)
			return Result{AlarmID: alarmID, Outcome: OutcomeSkipped, Confidence: plan.Aggregate.Confidence}
		}
	}

	rec, err := a.engine.Commit(ctx, plan)
	if err != nil {
		return Result{AlarmID: alarmID, Outcome: OutcomeError, Err: err, Confidence: plan.Aggregate.Confidence}
	}

	if rec != nil {
		// Emergency overrides and disabled-smart resets are not
		// adaptations; they never consume the daily counter.
		if !rec.Emergency && !plan.Bypass {
			a.mu.Lock()
			st.AdaptationsToday++
			a.mu.Unlock()
		}
		if a.notifier != nil {
			if err := a.notifier.PublishAdaptation(rec); err != nil {
				a.logger.Warn("Failed to publish adaptation event",
					zap.String("alarm_id", alarmID),
					zap.Error(err),
				)
			}
		}
		return Result{AlarmID: alarmID, Outcome: OutcomeApplied, Record: rec, Confidence: rec.Confidence}
	}
	// Only the window moved: bookkeeping, not an adaptation.
	return Result{AlarmID: alarmID, Outcome: OutcomeNoChange, Confidence: plan.Aggregate.Confidence}
}

// commitWindowOnly 在时间调整被压制时仍持久化窗口变化
// Window resizing is uncapped bookkeeping, separate from time-shift
// adaptations.
func (a *Adapter) commitWindowOnly(ctx context.Context, plan *scheduler.Plan) {
	if !plan.WindowChanged {
		return
	}
	windowPlan := *plan
	// The retained delta must stay inside the new window, otherwise the
	// persisted pair would break |next - base| <= window.
	delta := plan.Alarm.NextDeltaMinutes
	if delta > windowPlan.WindowMinutes {
		delta = windowPlan.WindowMinutes
	} else if delta < -windowPlan.WindowMinutes {
		delta = -windowPlan.WindowMinutes
	}
	windowPlan.NextDeltaMinutes = delta
	windowPlan.TimeChanged = false
	if _, err := a.engine.Commit(ctx, &windowPlan); err != nil {
		a.logger.Warn("Failed to persist window resize",
			zap.String("alarm_id", plan.Alarm.AlarmID),
			zap.Error(err),
		)
	}
}

// begin 获取闹钟的在飞标记（同一闹钟同时至多一次评估）
func (a *Adapter) begin(alarmID string) (*Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.status[alarmID]
	if !ok {
		st = &Status{}
		a.status[alarmID] = st
	}
	if st.inFlight {
		return nil, false
	}
	st.inFlight = true
	return st, true
}

func (a *Adapter) end(alarmID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.status[alarmID]; ok {
		st.inFlight = false
	}
}

// rollDate 跨天或首次接触时从审计历史重建当日计数器
// Rebuilding from adaptation_records means a process restart can never
// bypass the daily ceiling.
func (a *Adapter) rollDate(ctx context.Context, alarmID string, st *Status, today string) {
	a.mu.Lock()
	needsRebuild := st.Date != today || !st.counted
	st.Date = today
	a.mu.Unlock()
	if !needsRebuild {
		return
	}

	count := 0
	if a.counts != nil {
		c, err := a.counts.CountAppliedOnDate(ctx, alarmID, today)
		if err != nil {
			// Keep the stale in-memory count and retry on the next touch;
			// zeroing it here would let a restart during a storage blip
			// slip past the ceiling.
			a.logger.Warn("Failed to rebuild daily adaptation count",
				zap.String("alarm_id", alarmID),
				zap.Error(err),
			)
			a.mu.Lock()
			st.counted = false
			a.mu.Unlock()
			return
		}
		count = c
	}

	a.mu.Lock()
	st.AdaptationsToday = count
	st.counted = true
	a.mu.Unlock()
}

// StatusFor 返回某闹钟当前的内存状态快照（测试与诊断用）
func (a *Adapter) StatusFor(alarmID string) (Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.status[alarmID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}
