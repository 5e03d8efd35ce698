package builtin

import (
	"context"
	"fmt"
	"time"

	"chatline/internal/tools"
)

// CurrentTimeTool reports the current time in a requested time zone.
type CurrentTimeTool struct {
	tools.BaseTool
	now func() time.Time
}

// NewCurrentTimeTool creates the current_time tool.
func NewCurrentTimeTool() *CurrentTimeTool {
	return &CurrentTimeTool{
		BaseTool: tools.BaseTool{
			ToolName:        "current_time",
			ToolDescription: "Get the current date and time, optionally in an IANA time zone such as Asia/Shanghai.",
			ToolParameters: tools.ObjectSchema(map[string]any{
				"timezone": tools.StringProperty("IANA time zone name. Default: server local time"),
			}),
		},
		now: time.Now,
	}
}

// Execute returns the formatted time.
func (t *CurrentTimeTool) Execute(_ context.Context, args map[string]any) (tools.ToolResult, error) {
	now := t.now()
	if tz, _ := args["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return tools.NewErrorResult(fmt.Sprintf("unknown time zone %q", tz)), nil
		}
		now = now.In(loc)
	}
	return tools.NewSuccessResult(now.Format("2006-01-02 15:04:05 Monday MST")), nil
}
