package metric

import (
	"fmt"
	"strings"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
	"github.com/vhostmd/vhostmd-go/daemon/dtdvalidate"
	"github.com/vhostmd/vhostmd-go/daemon/lib"
)

// Engine evaluates metric definitions into transient values and emits them
// as XML. One Engine is shared across every tick of the publication loop.
type Engine struct {
	// ConnectURI is substituted for the CONNECT hole; empty means no
	// --connect argument is added to spawned actions.
	ConnectURI string
	// PathOverride replaces PATH in spawned actions' environment when
	// non-empty (globals/path).
	PathOverride string
}

// NewEngine creates an Engine configured with the given hypervisor connect
// URI and PATH override.
func NewEngine(connectURI, pathOverride string) *Engine {
	return &Engine{ConnectURI: connectURI, PathOverride: pathOverride}
}

// Evaluate runs def's action (or its builtin, if one is registered for a
// host-context metric of that name), parses the output into def's reusable
// value buffer, and marks def valid for this tick's Emit. vm must be
// non-nil for vm-context metrics and nil for host-context metrics.
//
// Evaluation failures (spawn error, non-zero exit, invalid xml fragment)
// are returned to the caller, which is expected to log and continue; the
// definition is left invalid so Emit skips it.
func (e *Engine) Evaluate(def *Definition, vm *VM) error {
	if def.Context == ContextHost {
		if fn, ok := Builtins[def.Name]; ok {
			out, err := fn()
			if err != nil {
				def.invalidate()
				return fmt.Errorf("builtin metric %q: %w", def.Name, err)
			}
			def.setValue(out)
			return nil
		}
	}

	if def.Context == ContextVM && vm == nil {
		def.invalidate()
		return fmt.Errorf("metric %q requires a vm descriptor", def.Name)
	}

	cmdline := def.Template.Render(e.ConnectURI, vm)

	out, err := lib.RunAction(cmdline, e.PathOverride)
	if err != nil {
		def.invalidate()
		return fmt.Errorf("metric %q: %w", def.Name, err)
	}

	if def.Type == TypeXML {
		if err := validateXMLFragments(out); err != nil {
			def.invalidate()
			return fmt.Errorf("metric %q: %w", def.Name, err)
		}
	}

	def.setValue(out)
	return nil
}

// validateXMLFragments splits raw into successive "<metric>...</metric>"
// fragments and validates each against the metric DTD. It fails closed: no
// fragments found, or any one fragment invalid, is an error.
func validateXMLFragments(raw string) error {
	fragments := splitMetricFragments(raw)
	if len(fragments) == 0 {
		return fmt.Errorf("no <metric> elements found in xml metric output")
	}
	for _, frag := range fragments {
		if err := dtdvalidate.ValidateMetricFragment([]byte(frag)); err != nil {
			return fmt.Errorf("invalid metric fragment: %w", err)
		}
	}
	return nil
}

// splitMetricFragments extracts each "<metric...>...</metric>" substring
// from raw, in order.
func splitMetricFragments(raw string) []string {
	var frags []string
	rest := raw
	for {
		start := strings.Index(rest, "<metric")
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := strings.Index(rest, "</metric>")
		if end < 0 {
			break
		}
		end += len("</metric>")
		frags = append(frags, rest[:end])
		rest = rest[end:]
	}
	return frags
}

// Emit appends def's XML representation to out. For group metrics this
// writes Cnt sibling <metric> elements; for xml metrics it writes the
// already-validated fragments verbatim; everything else writes exactly one
// element. Definitions that failed evaluation this tick (def.valid false)
// are skipped entirely.
func (e *Engine) Emit(def *Definition, vm *VM, out *buffer.Buffer) {
	if !def.valid {
		return
	}

	if def.Type == TypeXML {
		out.AddString(def.Value())
		if !strings.HasSuffix(def.Value(), "\n") {
			out.AddString("\n")
		}
		return
	}

	value := def.Value()
	for i := 0; i < def.Cnt; i++ {
		name := GetNthToken(def.Name, i, def.Cnt)
		typ := GetNthToken(def.TypeStr, i, def.Cnt)
		val := GetNthToken(value, i, def.Cnt)

		out.AddString("<metric type='")
		out.AddString(typ)
		out.AddString("' context='")
		out.AddString(string(def.Context))
		out.AddString("'")
		if vm != nil {
			out.Printf(" id='%d' uuid='%s'", vm.ID, vm.UUID)
		}
		if def.Unit != "" {
			out.AddString(" unit='")
			out.AddString(def.Unit)
			out.AddString("'")
		}
		out.AddString(">\n  <name>")
		out.AddString(name)
		out.AddString("</name>\n  <value>")
		out.AddString(val)
		out.AddString("</value>\n</metric>\n")
	}
}

// GetNthToken returns the nth (0-based) comma-separated token of s, where
// cnt is the number of tokens the caller expects. If s is empty, "" is
// returned for every index. If s contains fewer commas than nth requires,
// the whole string s is returned unchanged (the original's "not enough
// delimiters, don't split" fallback).
func GetNthToken(s string, nth, cnt int) string {
	if s == "" {
		return ""
	}
	if cnt <= 1 {
		return s
	}
	if strings.Count(s, ",") < nth {
		return s
	}
	parts := strings.Split(s, ",")
	if nth >= len(parts) {
		return s
	}
	return parts[nth]
}
