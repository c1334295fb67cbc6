package taskstate

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	WarningEmptyResponse = "empty_response"
	WarningParseFailed   = "task_update_parse_failed"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ParsedUpdate is a task update found in model output. Warning is set when
// nothing usable was found and is never an error.
type ParsedUpdate struct {
	Parsed        bool
	State         string
	CurrentStep   int
	TotalSteps    int
	NextAction    *string
	BlockedReason *string
	Warning       string
	Raw           map[string]interface{}
}

// ParseTaskUpdate scans text for a JSON object describing task progress, either
// {"task_update": {...}} or a bare object with a valid "state".
func ParseTaskUpdate(text string) ParsedUpdate {
	if text == "" {
		return ParsedUpdate{Warning: WarningEmptyResponse}
	}

	var candidates []string
	seen := map[string]bool{}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			candidates = append(candidates, s)
		}
	}
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, s := range balancedObjects(text) {
		add(s)
	}

	for _, candidate := range candidates {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}

		payload, ok := parsed["task_update"].(map[string]interface{})
		if !ok {
			payload = parsed
		}
		if len(payload) == 0 {
			continue
		}

		state, _ := payload["state"].(string)
		if !ValidState(state) {
			continue
		}

		current, errC := toInt(payload, "current_step")
		total, errT := toInt(payload, "total_steps")
		if errC != nil || errT != nil {
			current, total = 0, 0
		} else {
			current, total = Clamp(current, total)
		}

		out := ParsedUpdate{
			Parsed:      true,
			State:       state,
			CurrentStep: current,
			TotalSteps:  total,
			Raw:         payload,
		}
		if next, ok := payload["next_action"].(string); ok {
			out.NextAction = &next
		}
		if reason, ok := payload["blocked_reason"]; ok && reason != nil {
			s, isString := reason.(string)
			if !isString {
				s = fmt.Sprint(reason)
			}
			out.BlockedReason = &s
		}
		return out
	}

	return ParsedUpdate{Warning: WarningParseFailed}
}

// balancedObjects returns top-level {...} spans in order of appearance.
func balancedObjects(raw string) []string {
	var out []string
	depth, start := 0, -1
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, raw[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// toInt reads an integer-like field; a missing key is 0.
func toInt(payload map[string]interface{}, key string) (int, error) {
	v, ok := payload[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%s is not finite", key)
		}
		return int(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%s has unsupported type %T", key, v)
}
