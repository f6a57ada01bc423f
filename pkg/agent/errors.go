package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMaxIterations terminates a run whose model never stopped calling tools.
var ErrMaxIterations = errors.New("max iterations reached")

// InvalidArgumentsError reports tool parameter validation failures, keyed by
// the offending field. Raised before any side effect.
type InvalidArgumentsError struct {
	Tool   string
	Fields map[string]string
}

func (e *InvalidArgumentsError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("invalid arguments for %s (%s)", e.Tool, strings.Join(parts, "; "))
}

// UnknownToolError should not occur given a closed tool set, but a model
// hallucinating a tool name must fail loudly rather than be ignored.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}
