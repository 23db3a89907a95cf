// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/modkit/modkit/internal/execctx"
)

// pathSep separates nested keys in option and fact lookups ("a:b:c").
const pathSep = ":"

// FormatValue renders a value as script text. Scalars print plainly, maps
// and lists as JSON.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t)
	case *execctx.Dict:
		return FormatValue(t.Snapshot())
	case fmt.Stringer:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// Traverse walks a ":"-separated key path through nested maps and dicts.
func Traverse(v any, path string) (any, bool) {
	cur := v
	for part := range strings.SplitSeq(path, pathSep) {
		switch t := cur.(type) {
		case *execctx.Dict:
			next, ok := t.Get(part)
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]any:
			next, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// probeValue maps script probe output onto the probe value shapes: "true"
// and "false" are booleans, empty output is nil, other text is a rename. A
// non-zero exit is a rejection whose reason is the output or stderr.
func probeValue(out string, err error) (any, error) {
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		reason := strings.TrimSpace(out)
		if reason == "" {
			reason = strings.TrimSpace(exitErr.Stderr)
		}
		if reason == "" {
			return false, nil
		}
		return ProbeResult{Ok: false, Reason: reason}, nil
	}
	switch s := strings.TrimSpace(out); s {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	case "":
		return nil, nil
	default:
		return s, nil
	}
}
