// Package scope 解析 user / group / group_user / global 四级作用域设置与人设。
package scope

import "strings"

// 作用域类型，同时作为 scope_settings 表的 scope_type
const (
	TypeGlobal    = "global"
	TypeUser      = "user"
	TypeGroup     = "group"
	TypeGroupUser = "group_user"
)

// GlobalID 全局作用域的固定 ID
const GlobalID = "*"

// GroupUserID 组合群内用户作用域 ID
func GroupUserID(groupID, userID string) string {
	return groupID + ":" + userID
}

// Features 场景模型与开关
type Features struct {
	ChatModel     string `json:"chatModel,omitempty"`
	ToolModel     string `json:"toolModel,omitempty"`
	DispatchModel string `json:"dispatchModel,omitempty"`
	ImageModel    string `json:"imageModel,omitempty"`
	DrawModel     string `json:"drawModel,omitempty"`
	SearchModel   string `json:"searchModel,omitempty"`
	RoleplayModel string `json:"roleplayModel,omitempty"`
	ToolsEnabled  *bool  `json:"toolsEnabled,omitempty"`
}

// Settings 一层作用域设置，合并后即为有效设置
type Settings struct {
	PresetID string   `json:"presetId,omitempty"`
	ModelID  string   `json:"modelId,omitempty"`
	Prompt   string   `json:"prompt,omitempty"`
	Features Features `json:"features"`
}

// ScenarioModel 返回场景覆盖模型，chat 未设置时使用 ModelID
func (s Settings) ScenarioModel(scenario string) string {
	f := s.Features
	switch strings.ToLower(scenario) {
	case "chat":
		if f.ChatModel != "" {
			return f.ChatModel
		}
		return s.ModelID
	case "tool":
		return f.ToolModel
	case "dispatch":
		return f.DispatchModel
	case "image", "image_understand":
		return f.ImageModel
	case "draw":
		return f.DrawModel
	case "search":
		return f.SearchModel
	case "roleplay":
		return f.RoleplayModel
	}
	return ""
}

// ToolsAllowed 未显式关闭即允许
func (s Settings) ToolsAllowed() bool {
	return s.Features.ToolsEnabled == nil || *s.Features.ToolsEnabled
}

// Merge 将 layers 从低到高依次覆盖，非空字段生效
func Merge(layers ...Settings) Settings {
	var out Settings
	for _, l := range layers {
		out.PresetID = pick(out.PresetID, l.PresetID)
		out.ModelID = pick(out.ModelID, l.ModelID)
		out.Prompt = pick(out.Prompt, l.Prompt)
		f := &out.Features
		f.ChatModel = pick(f.ChatModel, l.Features.ChatModel)
		f.ToolModel = pick(f.ToolModel, l.Features.ToolModel)
		f.DispatchModel = pick(f.DispatchModel, l.Features.DispatchModel)
		f.ImageModel = pick(f.ImageModel, l.Features.ImageModel)
		f.DrawModel = pick(f.DrawModel, l.Features.DrawModel)
		f.SearchModel = pick(f.SearchModel, l.Features.SearchModel)
		f.RoleplayModel = pick(f.RoleplayModel, l.Features.RoleplayModel)
		if l.Features.ToolsEnabled != nil {
			v := *l.Features.ToolsEnabled
			f.ToolsEnabled = &v
		}
	}
	return out
}

func pick(cur, next string) string {
	if next != "" {
		return next
	}
	return cur
}
