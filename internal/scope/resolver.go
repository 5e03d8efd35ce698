package scope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"chatline/internal/storage"
)

// ErrUnknownType 作用域类型不在 global / user / group / group_user 之内
var ErrUnknownType = errors.New("unknown scope type")

// DefaultCacheTTL 作用域层缓存时间
const DefaultCacheTTL = 5 * time.Minute

// Store 作用域设置持久化，storage.DB 实现该接口
type Store interface {
	GetScopeSettings(ctx context.Context, scopeType, scopeID string, out any) error
	PutScopeSettings(ctx context.Context, scopeType, scopeID string, settings any) error
	DeleteScopeSettings(ctx context.Context, scopeType, scopeID string) error
}

// Persona 人设解析结果
type Persona struct {
	Prompt string `json:"prompt"`
	// IsIndependent 为 true 表示该用户拥有独立于群/默认的专属人设
	IsIndependent bool   `json:"isIndependent"`
	Source        string `json:"source"`
	Preset        Preset `json:"preset"`
}

// PersonaSourceDefault 使用默认预设
const PersonaSourceDefault = "default"

type layer struct {
	scopeType string
	scopeID   string
}

// Resolver 合并作用域设置并解析人设，单层设置缓存于 go-cache
type Resolver struct {
	store   Store
	presets *Presets
	cache   *cache.Cache
	logger  zerolog.Logger
}

// NewResolver 创建解析器，ttl <= 0 时使用 DefaultCacheTTL
func NewResolver(store Store, presets *Presets, ttl time.Duration, logger zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if presets == nil {
		presets = NewPresets(nil, "")
	}
	return &Resolver{
		store:   store,
		presets: presets,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger,
	}
}

// layers 按优先级从低到高：global < user < group < group_user
func layers(groupID, userID string, isPrivate bool) []layer {
	out := []layer{{TypeGlobal, GlobalID}}
	if userID != "" {
		out = append(out, layer{TypeUser, userID})
	}
	if groupID != "" && !isPrivate {
		out = append(out, layer{TypeGroup, groupID})
		if userID != "" {
			out = append(out, layer{TypeGroupUser, GroupUserID(groupID, userID)})
		}
	}
	return out
}

func cacheKey(scopeType, scopeID string) string {
	return scopeType + "/" + scopeID
}

// load 读取单层设置，found 为 false 表示该层不存在
func (r *Resolver) load(ctx context.Context, l layer) (Settings, bool, error) {
	key := cacheKey(l.scopeType, l.scopeID)
	if x, ok := r.cache.Get(key); ok {
		s, found := x.(*Settings)
		if !found {
			return Settings{}, false, nil
		}
		return *s, true, nil
	}

	var s Settings
	err := r.store.GetScopeSettings(ctx, l.scopeType, l.scopeID, &s)
	if errors.Is(err, storage.ErrNotFound) {
		// 缓存不存在的结果，避免每次请求都查库
		r.cache.Set(key, struct{}{}, cache.DefaultExpiration)
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("load %s settings %s: %w", l.scopeType, l.scopeID, err)
	}
	r.cache.Set(key, &s, cache.DefaultExpiration)
	return s, true, nil
}

// GetEffectiveSettings 返回合并后的有效设置，私聊时忽略群相关层
func (r *Resolver) GetEffectiveSettings(ctx context.Context, groupID, userID string, isPrivate bool) (Settings, error) {
	var found []Settings
	for _, l := range layers(groupID, userID, isPrivate) {
		s, ok, err := r.load(ctx, l)
		if err != nil {
			return Settings{}, err
		}
		if ok {
			found = append(found, s)
		}
	}
	return Merge(found...), nil
}

// Put 写入一层设置并使其缓存失效
func (r *Resolver) Put(ctx context.Context, scopeType, scopeID string, s Settings) error {
	if err := validateType(scopeType); err != nil {
		return err
	}
	if err := r.store.PutScopeSettings(ctx, scopeType, scopeID, s); err != nil {
		return err
	}
	r.cache.Delete(cacheKey(scopeType, scopeID))
	return nil
}

// Delete 删除一层设置并使其缓存失效
func (r *Resolver) Delete(ctx context.Context, scopeType, scopeID string) error {
	if err := validateType(scopeType); err != nil {
		return err
	}
	r.cache.Delete(cacheKey(scopeType, scopeID))
	return r.store.DeleteScopeSettings(ctx, scopeType, scopeID)
}

// GetIndependentPrompt 解析人设，优先级：群内用户 > 群 > 用户全局 > 全局作用域 > 默认预设
func (r *Resolver) GetIndependentPrompt(ctx context.Context, groupID, userID, defaultPrompt string) (Persona, error) {
	var candidates []layer
	if groupID != "" && userID != "" {
		candidates = append(candidates, layer{TypeGroupUser, GroupUserID(groupID, userID)})
	}
	if groupID != "" {
		candidates = append(candidates, layer{TypeGroup, groupID})
	}
	if userID != "" {
		candidates = append(candidates, layer{TypeUser, userID})
	}
	candidates = append(candidates, layer{TypeGlobal, GlobalID})

	for _, l := range candidates {
		s, ok, err := r.load(ctx, l)
		if err != nil {
			return Persona{}, err
		}
		if !ok {
			continue
		}
		if p, ok := r.personaFrom(s); ok {
			p.Source = l.scopeType
			p.IsIndependent = l.scopeType == TypeGroupUser || l.scopeType == TypeUser
			return p, nil
		}
	}

	p := Persona{Prompt: defaultPrompt, Source: PersonaSourceDefault}
	if preset, ok := r.presets.Default(); ok {
		p.Preset = preset
		if p.Prompt == "" {
			p.Prompt = preset.SystemPrompt
		}
	}
	return p, nil
}

// personaFrom 层内直接设置的 prompt 优先于预设
func (r *Resolver) personaFrom(s Settings) (Persona, bool) {
	var p Persona
	if s.PresetID != "" {
		preset, ok := r.presets.Get(s.PresetID)
		if ok {
			p.Preset = preset
			p.Prompt = preset.SystemPrompt
		}
	}
	if s.Prompt != "" {
		p.Prompt = s.Prompt
	}
	if p.Prompt == "" && p.Preset.ID == "" {
		return Persona{}, false
	}
	return p, true
}

func validateType(scopeType string) error {
	switch scopeType {
	case TypeGlobal, TypeUser, TypeGroup, TypeGroupUser:
		return nil
	}
	return fmt.Errorf("%w %q", ErrUnknownType, scopeType)
}
