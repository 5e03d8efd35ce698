package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	merged := Merge(
		Settings{ModelID: "a", Features: Features{ChatModel: "chat-a", ToolsEnabled: boolPtr(true)}},
		Settings{ModelID: "b"},
		Settings{Features: Features{ToolsEnabled: boolPtr(false)}},
	)
	assert.Equal(t, "b", merged.ModelID)
	assert.Equal(t, "chat-a", merged.Features.ChatModel)
	assert.False(t, merged.ToolsAllowed())
}

func TestScenarioModel(t *testing.T) {
	s := Settings{ModelID: "m", Features: Features{ImageModel: "vision"}}
	assert.Equal(t, "m", s.ScenarioModel("chat"))
	assert.Equal(t, "vision", s.ScenarioModel("image_understand"))
	assert.Equal(t, "", s.ScenarioModel("tool"))
	assert.Equal(t, "", s.ScenarioModel("unknown"))
}
