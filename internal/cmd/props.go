package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/richardanaya/agent-office/internal/graph"
)

// parseValue infers a property value from command-line text: null, true and
// false, integers, floats and RFC 3339 timestamps keep their kind; anything
// else is a string. Quote with a leading "=" to force a string, e.g. "=42".
func parseValue(s string) graph.Value {
	if rest, ok := strings.CutPrefix(s, "="); ok {
		return graph.String(rest)
	}
	switch s {
	case "null":
		return graph.Null()
	case "true":
		return graph.Bool(true)
	case "false":
		return graph.Bool(false)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return graph.Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXnN") {
		return graph.Float(f)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return graph.Time(t)
	}
	return graph.String(s)
}

// parseProps turns k=v pairs into properties.
func parseProps(pairs []string) (graph.Properties, error) {
	props := graph.Properties{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q, want key=value", pair)
		}
		props[k] = parseValue(v)
	}
	return props, nil
}

// parseFilters turns k=v pairs into exact-match property filters.
func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value", pair)
		}
		filters[k] = v
	}
	return filters, nil
}
