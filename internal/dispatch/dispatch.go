// Package dispatch fans incoming protocol lines out to every interested
// running script.
//
// The dispatcher is stateless routing logic: one call per incoming line,
// enumerating the registry snapshot and delivering the line into each
// subscribed script's buffer. Plain downstream lines are additionally
// evaluated against every script's watch table; each match spawns one
// detached reactive task owned by the matching script. Routing to one
// script never blocks on, and is never affected by, another script's state.
package dispatch

import (
	"github.com/dshills/mudlark/internal/logging"
	"github.com/dshills/mudlark/internal/script"
)

// Class identifies the kind of incoming line.
type Class int

const (
	// ClassDownstream is plain game text sent to the client.
	ClassDownstream Class = iota
	// ClassDownstreamRaw is unstripped markup from the game.
	ClassDownstreamRaw
	// ClassUpstream is a command echo headed to the game.
	ClassUpstream
	// ClassScriptOutput is text originated by another script.
	ClassScriptOutput
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassDownstream:
		return "downstream"
	case ClassDownstreamRaw:
		return "downstream-raw"
	case ClassUpstream:
		return "upstream"
	case ClassScriptOutput:
		return "script-output"
	default:
		return "unknown"
	}
}

// Line is one already-decoded, newline-free protocol line.
type Line struct {
	Text  string
	Class Class
}

// Dispatcher routes lines to registered scripts.
// It is safe to call Dispatch from multiple goroutines; per-buffer FIFO is
// preserved per caller, with no ordering guarantee across scripts.
type Dispatcher struct {
	registry *script.Registry
	log      *logging.Logger
}

// New creates a dispatcher over the given registry.
func New(reg *script.Registry, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Null
	}
	return &Dispatcher{
		registry: reg,
		log:      log,
	}
}

// Dispatch routes one line to every registered script, independently per
// script: buffer delivery gated by the script's want-flags, and watch
// evaluation (with reactive-task spawning) for plain downstream lines.
func (d *Dispatcher) Dispatch(line Line) {
	for _, s := range d.registry.List() {
		d.route(s, line)
	}
}

// Downstream dispatches one plain downstream line.
func (d *Dispatcher) Downstream(text string) {
	d.Dispatch(Line{Text: text, Class: ClassDownstream})
}

// DownstreamRaw dispatches one raw/markup downstream line.
func (d *Dispatcher) DownstreamRaw(text string) {
	d.Dispatch(Line{Text: text, Class: ClassDownstreamRaw})
}

// Upstream dispatches one upstream command echo.
func (d *Dispatcher) Upstream(text string) {
	d.Dispatch(Line{Text: text, Class: ClassUpstream})
}

// ScriptOutput dispatches one script-originated output line.
func (d *Dispatcher) ScriptOutput(text string) {
	d.Dispatch(Line{Text: text, Class: ClassScriptOutput})
}

// route delivers one line to one script.
func (d *Dispatcher) route(s *script.Script, line Line) {
	switch line.Class {
	case ClassDownstream:
		if s.WantsDownstream() {
			s.Downstream().Push(line.Text)
		}
		for _, entry := range s.MatchWatches(line.Text) {
			if id := s.SpawnReactive(entry, line.Text); id != "" {
				d.log.WithScript(s.Name()).Debug("watch matched, spawned task %s", id)
			}
		}
	case ClassDownstreamRaw:
		if s.WantsDownstreamRaw() {
			s.Downstream().Push(line.Text)
		}
	case ClassUpstream:
		if s.WantsUpstream() {
			s.Upstream().Push(line.Text)
		}
	case ClassScriptOutput:
		if s.WantsScriptOutput() {
			s.Downstream().Push(line.Text)
		}
	}
}
