package dispatch

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var (
	bracketListRe = regexp.MustCompile(`\[\s*(-?\d+(?:\s*,\s*-?\d+)*)?\s*\]`)
	bareIntRe     = regexp.MustCompile(`-?\d+`)
	fenceRe       = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

var groupKeys = []string{"toolGroupIndexes", "tool_group_indexes", "toolGroups", "tool_groups", "groups", "indexes"}

// ParseDispatchResponse turns the dispatch model's raw answer into a Result.
// It tries, in order: a JSON object, a bracketed list of integers, then bare
// integers. Indexes for which valid returns false are dropped. A result
// without tasks gets a single chat task.
func ParseDispatchResponse(text string, valid func(int) bool) Result {
	if valid == nil {
		valid = func(int) bool { return true }
	}

	res, ok := parseJSON(text, valid)
	if !ok {
		res = Result{
			ToolGroupIndexes: parseBracketList(text, valid),
			ExecutionMode:    ModeSequential,
		}
		if res.ToolGroupIndexes == nil {
			res.ToolGroupIndexes = filterIndexes(bareIntRe.FindAllString(text, -1), valid)
		}
	}

	if res.ToolGroupIndexes == nil {
		res.ToolGroupIndexes = []int{}
	}
	if len(res.Tasks) == 0 {
		res.Tasks = []Task{{Type: TaskChat, Priority: 1}}
	}
	return res
}

// extractObject returns the outermost {...} span, preferring a fenced block.
func extractObject(text string) (string, bool) {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func parseJSON(text string, valid func(int) bool) (Result, bool) {
	raw, ok := extractObject(text)
	if !ok {
		return Result{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Result{}, false
	}

	res := Result{ExecutionMode: ModeSequential, ToolGroupIndexes: []int{}}
	for _, key := range groupKeys {
		if list, ok := obj[key].([]any); ok {
			res.ToolGroupIndexes = lo.Uniq(lo.Filter(toInts(list), func(i int, _ int) bool { return valid(i) }))
			break
		}
	}
	if mode, ok := firstString(obj, "executionMode", "execution_mode", "mode"); ok {
		res.ExecutionMode = ParseExecutionMode(mode)
	}
	if analysis, ok := firstString(obj, "analysis", "reason"); ok {
		res.Analysis = analysis
	}
	if list, ok := obj["tasks"].([]any); ok {
		res.Tasks = parseTasks(list)
	}
	return res, true
}

func parseTasks(list []any) []Task {
	tasks := make([]Task, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		task := Task{Priority: len(tasks) + 1}
		if s, ok := m["type"].(string); ok {
			task.Type = ParseTaskType(s)
		} else {
			task.Type = TaskChat
		}
		if p, ok := toInt(m["priority"]); ok {
			task.Priority = p
		}
		if params, ok := m["params"].(map[string]any); ok {
			task.Params = params
		}
		dep, ok := toInt(m["dependsOn"])
		if !ok {
			dep, ok = toInt(m["depends_on"])
		}
		// only backward references are kept, so dependencies cannot form cycles
		if ok && dep >= 0 && dep < len(tasks) {
			task.DependsOn = &dep
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func parseBracketList(text string, valid func(int) bool) []int {
	matches := bracketListRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var out []int
	for _, m := range matches {
		out = append(out, filterIndexes(bareIntRe.FindAllString(m[1], -1), valid)...)
	}
	out = lo.Uniq(out)
	if out == nil {
		out = []int{}
	}
	return out
}

func filterIndexes(tokens []string, valid func(int) bool) []int {
	out := []int{}
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil || !valid(n) {
			continue
		}
		out = append(out, n)
	}
	return lo.Uniq(out)
}

func toInts(list []any) []int {
	out := make([]int, 0, len(list))
	for _, v := range list {
		if n, ok := toInt(v); ok {
			out = append(out, n)
		}
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func firstString(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return s, true
		}
	}
	return "", false
}
