// Package logging includes utilities shared by the components that log: logger construction, log
// scopes and value formatting for call logs. This is in an independent package to avoid dependency
// cycles.
package logging

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// Discard returns a logger that drops everything. It is the default of every component, so that
// library use is silent.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// New returns a text logger writing to w at the named level, such as "info" or "debug".
func New(w io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return l, nil
}

// LogScopes selects which optional, verbose events are logged at debug level.
type LogScopes uint64

const (
	LogScopeNone              = LogScopes(0)
	LogScopeCompile LogScopes = 1 << iota
	LogScopeLink
	LogScopeMemory
	LogScopeCall
	LogScopeAll = LogScopes(0xffffffffffffffff)
)

func scopeName(s LogScopes) string {
	switch s {
	case LogScopeCompile:
		return "compile"
	case LogScopeLink:
		return "link"
	case LogScopeMemory:
		return "memory"
	case LogScopeCall:
		return "call"
	default:
		return fmt.Sprintf("<unknown=%d>", s)
	}
}

// IsEnabled returns true if the scope (or group of scopes) is enabled.
func (f LogScopes) IsEnabled(scope LogScopes) bool {
	return f&scope != 0
}

// String implements fmt.Stringer by returning each enabled log scope.
func (f LogScopes) String() string {
	if f == LogScopeAll {
		return "all"
	}
	var builder strings.Builder
	for i := 0; i <= 63; i++ { // cycle through all bits to reduce code and maintenance
		target := LogScopes(1 << i)
		if f.IsEnabled(target) {
			if name := scopeName(target); name != "" {
				if builder.Len() > 0 {
					builder.WriteByte('|')
				}
				builder.WriteString(name)
			}
		}
	}
	return builder.String()
}

// ParseScopes parses a comma or pipe separated list of scope names. "all" enables every scope and
// the empty string none.
func ParseScopes(s string) (LogScopes, error) {
	var ret LogScopes
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		switch strings.TrimSpace(name) {
		case "all":
			ret = LogScopeAll
		case "compile":
			ret |= LogScopeCompile
		case "link":
			ret |= LogScopeLink
		case "memory":
			ret |= LogScopeMemory
		case "call":
			ret |= LogScopeCall
		default:
			return 0, fmt.Errorf("unknown log scope %q", name)
		}
	}
	return ret, nil
}

// FormatValues writes raw call values as text, one per type, separated by commas. v128 values
// consume two words and are written in fixed-width hex.
func FormatValues(types []wasm.ValueType, vals []uint64) string {
	var b strings.Builder
	var i int
	for n, t := range types {
		if n > 0 {
			b.WriteByte(',')
		}
		if i >= len(vals) {
			b.WriteString("?")
			continue
		}
		i += writeValue(&b, t, vals[i:])
	}
	return b.String()
}

// writeValue writes the value of type t at the head of vals and returns the number of words it used.
func writeValue(w *strings.Builder, t wasm.ValueType, vals []uint64) int {
	v := vals[0]
	switch t {
	case wasm.ValueTypeI32:
		w.WriteString(strconv.FormatInt(int64(int32(v)), 10))
	case wasm.ValueTypeI64:
		w.WriteString(strconv.FormatInt(int64(v), 10))
	case wasm.ValueTypeF32:
		w.WriteString(strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32))
	case wasm.ValueTypeF64:
		w.WriteString(strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64))
	case wasm.ValueTypeV128:
		if len(vals) < 2 {
			w.WriteString("?")
			return 1
		}
		fmt.Fprintf(w, "%016x%016x", vals[0], vals[1])
		return 2
	default:
		fmt.Fprintf(w, "%016x", v)
	}
	return 1
}
