package scope

import (
	"sync"

	"chatline/internal/config"
)

// Preset 人设预设
type Preset struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	SystemPrompt        string `json:"systemPrompt"`
	Model               string `json:"model,omitempty"`
	DisableSystemPrompt bool   `json:"disableSystemPrompt,omitempty"`
	ToolsEnabled        *bool  `json:"toolsEnabled,omitempty"`
}

// PresetsFromConfig 转换配置中的预设
func PresetsFromConfig(list []config.PresetConfig) []Preset {
	out := make([]Preset, 0, len(list))
	for _, p := range list {
		out = append(out, Preset{
			ID:                  p.ID,
			Name:                p.Name,
			SystemPrompt:        p.SystemPrompt,
			Model:               p.Model,
			DisableSystemPrompt: p.DisableSystemPrompt,
			ToolsEnabled:        p.ToolsEnabled,
		})
	}
	return out
}

// Presets 预设目录
type Presets struct {
	mu        sync.RWMutex
	byID      map[string]Preset
	defaultID string
}

// NewPresets 创建预设目录
func NewPresets(list []Preset, defaultID string) *Presets {
	p := &Presets{}
	p.Replace(list, defaultID)
	return p
}

// Replace 替换全部预设
func (p *Presets) Replace(list []Preset, defaultID string) {
	byID := make(map[string]Preset, len(list))
	for _, preset := range list {
		if preset.ID != "" {
			byID[preset.ID] = preset
		}
	}
	p.mu.Lock()
	p.byID = byID
	p.defaultID = defaultID
	p.mu.Unlock()
}

// Get 按 ID 获取预设
func (p *Presets) Get(id string) (Preset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	preset, ok := p.byID[id]
	return preset, ok
}

// Default 默认预设
func (p *Presets) Default() (Preset, bool) {
	p.mu.RLock()
	id := p.defaultID
	p.mu.RUnlock()
	return p.Get(id)
}
