package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultResetSchedule 每 10 分钟重置一次健康计数
const DefaultResetSchedule = "@every 10m"

// HealthResetter 定时清零渠道健康计数，让被降级的渠道重新参与路由
type HealthResetter struct {
	cron     *cron.Cron
	registry *Registry
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewHealthResetter 创建定时器；schedule 为空时使用默认值
func NewHealthResetter(registry *Registry, schedule string, logger zerolog.Logger) (*HealthResetter, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if schedule == "" {
		schedule = DefaultResetSchedule
	}
	h := &HealthResetter{
		cron:     cron.New(),
		registry: registry,
		schedule: schedule,
		logger:   logger,
	}
	if _, err := h.cron.AddFunc(schedule, h.Reset); err != nil {
		return nil, fmt.Errorf("invalid health reset schedule %q: %w", schedule, err)
	}
	return h, nil
}

// Start 启动定时器
func (h *HealthResetter) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return errors.New("health resetter already running")
	}
	h.cron.Start()
	h.running = true
	h.logger.Info().Str("schedule", h.schedule).Msg("channel health resetter started")
	return nil
}

// Stop 停止定时器并等待正在执行的任务
func (h *HealthResetter) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	<-h.cron.Stop().Done()
	h.running = false
}

// Reset 立即执行一次重置
func (h *HealthResetter) Reset() {
	h.registry.ResetHealth()
	h.logger.Debug().Msg("channel health counters reset")
}
