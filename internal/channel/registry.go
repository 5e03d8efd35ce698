// Package channel 管理上游 LLM 渠道（endpoint + keys + models）及其健康状态。
package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chatline/internal/provider"
)

// DefaultErrorThreshold 连续错误达到该值后渠道视为不健康
const DefaultErrorThreshold = 3

// WildcardModel 表示渠道接受任意模型
const WildcardModel = "*"

// Advanced 渠道高级配置
type Advanced struct {
	Timeout      time.Duration     `mapstructure:"timeout" yaml:"timeout" json:"timeout,omitempty"`
	MaxTokens    int               `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens,omitempty"`
	MaxToolSteps int               `mapstructure:"max_tool_steps" yaml:"max_tool_steps" json:"max_tool_steps,omitempty"`
	Stream       bool              `mapstructure:"stream" yaml:"stream" json:"stream,omitempty"`
	Headers      map[string]string `mapstructure:"headers" yaml:"headers" json:"headers,omitempty"`
}

// Channel 上游渠道定义，对核心流程只读
type Channel struct {
	ID          string   `mapstructure:"id" yaml:"id" json:"id"`
	Name        string   `mapstructure:"name" yaml:"name" json:"name"`
	AdapterType string   `mapstructure:"adapter_type" yaml:"adapter_type" json:"adapter_type"`
	BaseURL     string   `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Models      []string `mapstructure:"models" yaml:"models" json:"models"`
	Priority    int      `mapstructure:"priority" yaml:"priority" json:"priority"`
	Keys        []string `mapstructure:"keys" yaml:"keys" json:"-"`
	Advanced    Advanced `mapstructure:"advanced" yaml:"advanced" json:"advanced"`
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Serves 渠道是否提供指定模型
func (c Channel) Serves(model string) bool {
	for _, m := range c.Models {
		if m == model || m == WildcardModel {
			return true
		}
	}
	return false
}

// KeySelection 选中的 API key
type KeySelection struct {
	Key      string
	KeyIndex int
}

// ErrorReport 单次失败的上报内容
type ErrorReport struct {
	KeyIndex  int
	ErrorType provider.ErrorType
	Message   string
}

// Status 渠道运行状态快照
type Status struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Priority          int       `json:"priority"`
	Enabled           bool      `json:"enabled"`
	Healthy           bool      `json:"healthy"`
	InFlight          int       `json:"in_flight"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	TotalErrors       int64     `json:"total_errors"`
	TotalSuccess      int64     `json:"total_success"`
	TotalTokens       int64     `json:"total_tokens"`
	KeyErrors         []int     `json:"key_errors"`
	LastErrorType     string    `json:"last_error_type,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at,omitempty"`
}

type entry struct {
	ch Channel

	nextKey           int
	inFlight          int
	consecutiveErrors int
	totalErrors       int64
	totalSuccess      int64
	totalTokens       int64
	keyErrors         []int
	lastErrorType     provider.ErrorType
	lastError         string
	lastErrorAt       time.Time
}

// Registry 渠道注册表，所有计数器只做增减与重置
type Registry struct {
	mu             sync.RWMutex
	order          []string
	entries        map[string]*entry
	errorThreshold int
	logger         zerolog.Logger
}

// Option 注册表可选项
type Option func(*Registry)

// WithErrorThreshold 设置不健康阈值
func WithErrorThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.errorThreshold = n
		}
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry 创建渠道注册表
func NewRegistry(channels []Channel, opts ...Option) *Registry {
	r := &Registry{
		entries:        make(map[string]*entry),
		errorThreshold: DefaultErrorThreshold,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Replace(channels)
	return r
}

// Replace 用新的渠道列表替换当前配置，保留同 ID 渠道的健康计数
func (r *Registry) Replace(channels []Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]*entry, len(channels))
	order := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch.ID == "" {
			continue
		}
		if _, dup := entries[ch.ID]; dup {
			r.logger.Warn().Str("channel", ch.ID).Msg("duplicate channel id ignored")
			continue
		}
		e, ok := r.entries[ch.ID]
		if !ok {
			e = &entry{}
		}
		e.ch = ch
		if len(e.keyErrors) != len(ch.Keys) {
			e.keyErrors = make([]int, len(ch.Keys))
		}
		entries[ch.ID] = e
		order = append(order, ch.ID)
	}
	r.entries = entries
	r.order = order
}

// Get 获取渠道
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Channel{}, false
	}
	return e.ch, true
}

// Models 返回所有启用渠道提供的模型
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var models []string
	for _, id := range r.order {
		e := r.entries[id]
		if e.ch.Enabled {
			models = append(models, e.ch.Models...)
		}
	}
	return lo.Uniq(lo.Without(models, WildcardModel))
}

func (r *Registry) healthy(e *entry) bool {
	return e.consecutiveErrors < r.errorThreshold
}

// candidates 返回服务 model 的启用渠道，按健康、优先级、错误数、并发数排序
func (r *Registry) candidates(model, excludeID string) []*entry {
	list := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		if !e.ch.Enabled || id == excludeID || !e.ch.Serves(model) {
			continue
		}
		list = append(list, e)
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if ha, hb := r.healthy(a), r.healthy(b); ha != hb {
			return ha
		}
		if a.ch.Priority != b.ch.Priority {
			return a.ch.Priority > b.ch.Priority
		}
		if a.consecutiveErrors != b.consecutiveErrors {
			return a.consecutiveErrors < b.consecutiveErrors
		}
		return a.inFlight < b.inFlight
	})
	return list
}

// BestChannel 返回模型的最佳渠道
func (r *Registry) BestChannel(model string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.candidates(model, "")
	if len(list) == 0 {
		return Channel{}, false
	}
	return list[0].ch, true
}

// AlternateChannels 返回除 excludeID 外服务同一模型的渠道
func (r *Registry) AlternateChannels(model, excludeID string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.candidates(model, excludeID), func(e *entry, _ int) Channel { return e.ch })
}

// Key 按轮询选择起始 key；无 key 的渠道返回空 key 与索引 0
func (r *Registry) Key(channelID string) (KeySelection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channelID]
	if !ok {
		return KeySelection{}, false
	}
	n := len(e.ch.Keys)
	if n == 0 {
		return KeySelection{KeyIndex: 0}, true
	}
	idx := e.nextKey % n
	e.nextKey = (idx + 1) % n
	return KeySelection{Key: e.ch.Keys[idx], KeyIndex: idx}, true
}

// NextKey 返回 afterIndex 之后的下一个 key（环绕）；单 key 或无 key 渠道返回 false
func (r *Registry) NextKey(channelID string, afterIndex int) (KeySelection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[channelID]
	if !ok {
		return KeySelection{}, false
	}
	n := len(e.ch.Keys)
	if n <= 1 {
		return KeySelection{}, false
	}
	idx := ((afterIndex+1)%n + n) % n
	return KeySelection{Key: e.ch.Keys[idx], KeyIndex: idx}, true
}

// ReportError 记录一次失败
func (r *Registry) ReportError(channelID string, report ErrorReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channelID]
	if !ok {
		return
	}
	e.consecutiveErrors++
	e.totalErrors++
	e.lastErrorType = report.ErrorType
	e.lastError = report.Message
	e.lastErrorAt = time.Now()
	if report.KeyIndex >= 0 && report.KeyIndex < len(e.keyErrors) {
		e.keyErrors[report.KeyIndex]++
	}
	if e.consecutiveErrors == r.errorThreshold {
		r.logger.Warn().Str("channel", channelID).Int("consecutive_errors", e.consecutiveErrors).
			Str("error_type", string(report.ErrorType)).Msg("channel marked unhealthy")
	}
}

// ReportSuccess 记录一次成功，清零连续错误
func (r *Registry) ReportSuccess(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[channelID]; ok {
		e.consecutiveErrors = 0
		e.totalSuccess++
	}
}

// ReportUsage 累计 token 用量
func (r *Registry) ReportUsage(channelID string, tokens int) {
	if tokens <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[channelID]; ok {
		e.totalTokens += int64(tokens)
	}
}

// StartRequest 并发计数 +1
func (r *Registry) StartRequest(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[channelID]; ok {
		e.inFlight++
	}
}

// EndRequest 并发计数 -1
func (r *Registry) EndRequest(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[channelID]; ok && e.inFlight > 0 {
		e.inFlight--
	}
}

// ResetHealth 清零所有渠道的连续错误与 key 错误计数
func (r *Registry) ResetHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.consecutiveErrors = 0
		for i := range e.keyErrors {
			e.keyErrors[i] = 0
		}
	}
}

// Snapshot 返回所有渠道状态
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, Status{
			ID:                id,
			Name:              e.ch.Name,
			Priority:          e.ch.Priority,
			Enabled:           e.ch.Enabled,
			Healthy:           r.healthy(e),
			InFlight:          e.inFlight,
			ConsecutiveErrors: e.consecutiveErrors,
			TotalErrors:       e.totalErrors,
			TotalSuccess:      e.totalSuccess,
			TotalTokens:       e.totalTokens,
			KeyErrors:         append([]int(nil), e.keyErrors...),
			LastErrorType:     string(e.lastErrorType),
			LastError:         e.lastError,
			LastErrorAt:       e.lastErrorAt,
		})
	}
	return out
}
