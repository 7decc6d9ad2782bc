package main

import (
	"fmt"
	"strconv"
	"strings"
)

// action is an event to fire on an element, written event:#id[=value].
type action struct {
	Event  string `json:"event"`
	Target string `json:"target"`
	Value  any    `json:"value,omitempty"`
}

func parseAction(s string) (action, error) {
	event, rest, ok := strings.Cut(s, ":")
	if !ok || event == "" {
		return action{}, fmt.Errorf("action %q: want event:#id[=value]", s)
	}
	target, value, hasValue := strings.Cut(rest, "=")
	target = strings.TrimPrefix(target, "#")
	if target == "" {
		return action{}, fmt.Errorf("action %q: missing target id", s)
	}
	a := action{Event: event, Target: target}
	if hasValue {
		a.Value = parseValue(value)
	}
	return a, nil
}

// parseValue reads integers, floats, true and false. Anything else stays a
// string.
func parseValue(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
