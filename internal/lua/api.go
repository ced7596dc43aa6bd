package lua

import (
	"context"
	"fmt"
	"regexp"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/mudlark/internal/logging"
	"github.com/dshills/mudlark/internal/script"
)

// Host supplies the outbound surfaces the mud API needs. Registry is
// required; the rest are optional and no-op when nil.
type Host struct {
	Registry *script.Registry
	Log      *logging.Logger
	Echo     script.EchoSink

	// Put sends a command upstream to the game.
	Put func(cmd string)

	// Start launches a sibling script by name. Wired by the engine.
	Start func(name string, args []string) error
}

// API binds the mud module to one script on one Lua state. The body's API
// lives on the body state; each watch action gets its own API on a fresh
// state bound to the same script.
type API struct {
	host Host
	s    *script.Script
	st   *State
}

// NewAPI creates an API binding for the given script and state.
func NewAPI(host Host, s *script.Script, st *State) *API {
	if host.Log == nil {
		host.Log = logging.Null
	}
	if host.Echo == nil {
		host.Echo = script.EchoFunc(func(string) {})
	}
	return &API{host: host, s: s, st: st}
}

// Install registers the mud module as a global on the state. Blocking
// functions honor ctx: when it is cancelled they raise a Lua error so the
// running chunk unwinds.
func (a *API) Install(ctx context.Context) {
	a.st.RegisterModule("mud", a.funcs(ctx))
}

func (a *API) funcs(ctx context.Context) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		// identity
		"name":   a.luaName,
		"args":   a.luaArgs,
		"kwargs": a.luaKWArgs,

		// output
		"echo": a.luaEcho,
		"put":  a.luaPut,
		"log":  a.luaLog,

		// buffer reads
		"get":          a.blocking(ctx, a.luaGet),
		"tryget":       a.luaTryGet,
		"upstream_get": a.blocking(ctx, a.luaUpstreamGet),
		"unique_get":   a.blocking(ctx, a.luaUniqueGet),
		"waitfor":      a.blocking(ctx, a.luaWaitfor),

		// watches and timing
		"watchfor": a.luaWatchfor,
		"sleep":    a.blocking(ctx, a.luaSleep),

		// lifecycle
		"exit":         a.luaExit,
		"before_dying": a.luaBeforeDying,
		"die_with":     a.luaDieWith,
		"set_value":    a.luaSetValue,
		"pause":        a.blocking(ctx, a.luaPause),
		"unpause":      a.luaUnpause,

		// supervision of sibling scripts
		"kill":    a.luaKill,
		"running": a.luaRunning,
		"paused":  a.luaPaused,
		"list":    a.luaList,
		"send_to": a.luaSendTo,
		"start":   a.luaStart,
		"atomic":  a.luaAtomic,

		// flags
		"quiet":           flagFn(a.s.Quiet, a.s.SetQuiet),
		"hidden":          flagFn(a.s.Hidden, a.s.SetHidden),
		"silent":          flagFn(a.s.Silent, a.s.SetSilent),
		"no_echo":         flagFn(a.s.NoEcho, a.s.SetNoEcho),
		"want_downstream": flagFn(a.s.WantsDownstream, a.s.SetWantsDownstream),
		"want_raw":        flagFn(a.s.WantsDownstreamRaw, a.s.SetWantsDownstreamRaw),
		"want_upstream":   flagFn(a.s.WantsUpstream, a.s.SetWantsUpstream),
		"want_output":     flagFn(a.s.WantsScriptOutput, a.s.SetWantsScriptOutput),
		"no_pause_all":    flagFn(a.s.IgnoresPauseAll, a.s.SetIgnoresPauseAll),
		"no_kill_all":     flagFn(a.s.IgnoresKillAll, a.s.SetIgnoresKillAll),
	}
}

// blocking wraps an API function that may suspend, binding it to the
// lifecycle context for the state it runs on.
func (a *API) blocking(ctx context.Context, fn func(context.Context, *lua.LState) int) lua.LGFunction {
	return func(L *lua.LState) int {
		return fn(ctx, L)
	}
}

// flagFn builds a combined getter/setter: with an argument it sets the
// flag, without one it returns the current value.
func flagFn(get func() bool, set func(bool)) lua.LGFunction {
	return func(L *lua.LState) int {
		if L.GetTop() >= 1 {
			set(L.CheckBool(1))
			return 0
		}
		L.Push(lua.LBool(get()))
		return 1
	}
}

func (a *API) luaName(L *lua.LState) int {
	L.Push(lua.LString(a.s.Name()))
	return 1
}

func (a *API) luaArgs(L *lua.LState) int {
	L.Push(ToLua(L, a.s.Args()))
	return 1
}

func (a *API) luaKWArgs(L *lua.LState) int {
	L.Push(ToLua(L, a.s.KWArgs()))
	return 1
}

func (a *API) luaEcho(L *lua.LState) int {
	msg := L.CheckString(1)
	if !a.s.NoEcho() {
		a.host.Echo.Echo(fmt.Sprintf("[%s: %s]", a.s.Name(), msg))
	}
	return 0
}

func (a *API) luaPut(L *lua.LState) int {
	cmd := L.CheckString(1)
	if a.host.Put != nil {
		a.host.Put(cmd)
	}
	return 0
}

func (a *API) luaLog(L *lua.LState) int {
	a.host.Log.WithScript(a.s.Name()).Info("%s", L.CheckString(1))
	return 0
}

func (a *API) luaGet(ctx context.Context, L *lua.LState) int {
	line, err := a.s.Gets(ctx)
	if err != nil {
		L.RaiseError("get: %v", err)
	}
	L.Push(lua.LString(line))
	return 1
}

func (a *API) luaTryGet(L *lua.LState) int {
	line, ok := a.s.TryGets()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(line))
	return 1
}

func (a *API) luaUpstreamGet(ctx context.Context, L *lua.LState) int {
	if err := a.s.AwaitUnpaused(ctx); err != nil {
		L.RaiseError("upstream_get: %v", err)
	}
	line, err := a.s.Upstream().Pop(ctx)
	if err != nil {
		L.RaiseError("upstream_get: %v", err)
	}
	L.Push(lua.LString(line))
	return 1
}

func (a *API) luaUniqueGet(ctx context.Context, L *lua.LState) int {
	if err := a.s.AwaitUnpaused(ctx); err != nil {
		L.RaiseError("unique_get: %v", err)
	}
	line, err := a.s.Unique().Pop(ctx)
	if err != nil {
		L.RaiseError("unique_get: %v", err)
	}
	L.Push(lua.LString(line))
	return 1
}

// luaWaitfor consumes downstream lines until one matches any of the given
// patterns and returns that line.
func (a *API) luaWaitfor(ctx context.Context, L *lua.LState) int {
	n := L.GetTop()
	if n < 1 {
		L.ArgError(1, "at least one pattern required")
	}
	patterns := make([]*regexp.Regexp, 0, n)
	for i := 1; i <= n; i++ {
		re, err := regexp.Compile(L.CheckString(i))
		if err != nil {
			L.ArgError(i, err.Error())
		}
		patterns = append(patterns, re)
	}

	for {
		line, err := a.s.Gets(ctx)
		if err != nil {
			L.RaiseError("waitfor: %v", err)
		}
		for _, re := range patterns {
			if re.MatchString(line) {
				L.Push(lua.LString(line))
				return 1
			}
		}
	}
}

// luaWatchfor registers a reactive watch. The action is Lua source text
// executed on a fresh sandboxed state when the pattern matches; the state
// sees the mud module plus globals `line` (the matched line) and `matches`
// (the capture groups, full match first).
func (a *API) luaWatchfor(L *lua.LState) int {
	expr := L.CheckString(1)
	code := L.CheckString(2)

	re, err := regexp.Compile(expr)
	if err != nil {
		L.ArgError(1, err.Error())
	}

	host, s := a.host, a.s
	action := func(ctx context.Context, line string) error {
		st, err := NewState()
		if err != nil {
			return err
		}
		defer st.Close()

		sub := NewAPI(host, s, st)
		sub.Install(ctx)
		st.SetGlobal("line", lua.LString(line))

		caps := st.L.NewTable()
		for _, m := range re.FindStringSubmatch(line) {
			caps.Append(lua.LString(m))
		}
		st.SetGlobal("matches", caps)

		return st.DoString(code)
	}

	if err := s.Watchfor(re, action); err != nil {
		L.RaiseError("watchfor: %v", err)
	}
	return 0
}

func (a *API) luaSleep(ctx context.Context, L *lua.LState) int {
	secs := float64(L.CheckNumber(1))
	if secs <= 0 {
		return 0
	}
	t := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		L.RaiseError("sleep: %v", ctx.Err())
	}
	return 0
}

// luaExit sets the terminal status ("ok" when omitted) and unwinds the
// chunk by raising.
func (a *API) luaExit(L *lua.LState) int {
	status := script.StatusOK
	if L.GetTop() >= 1 {
		status = script.Status(L.CheckString(1))
	}
	a.s.Exit(status)
	L.RaiseError("script exiting")
	return 0
}

func (a *API) luaBeforeDying(L *lua.LState) int {
	fn := L.CheckFunction(1)
	err := a.s.OnExit(func() {
		if err := a.st.CallFunction(fn); err != nil {
			a.host.Log.WithScript(a.s.Name()).Error("exit callback: %v", err)
		}
	})
	if err != nil {
		L.RaiseError("before_dying: %v", err)
	}
	return 0
}

func (a *API) luaDieWith(L *lua.LState) int {
	a.s.DieWith(L.CheckString(1))
	return 0
}

func (a *API) luaSetValue(L *lua.LState) int {
	L.Push(lua.LBool(a.s.SetValue(ToGo(L.CheckAny(1)))))
	return 1
}

// luaPause pauses the calling script and blocks until something unpauses
// it. Pausing another script by name does not block.
func (a *API) luaPause(ctx context.Context, L *lua.LState) int {
	if L.GetTop() >= 1 {
		name := L.CheckString(1)
		if _, err := a.host.Registry.PauseByName(name); err != nil {
			a.host.Echo.Echo(fmt.Sprintf("[%s: cannot pause %q: %v]", a.s.Name(), name, err))
			L.Push(lua.LFalse)
			return 1
		}
		L.Push(lua.LTrue)
		return 1
	}

	a.s.Pause()
	if err := a.s.AwaitUnpaused(ctx); err != nil {
		L.RaiseError("pause: %v", err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (a *API) luaUnpause(L *lua.LState) int {
	name := L.CheckString(1)
	if _, err := a.host.Registry.UnpauseByName(name); err != nil {
		a.host.Echo.Echo(fmt.Sprintf("[%s: cannot unpause %q: %v]", a.s.Name(), name, err))
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

func (a *API) luaKill(L *lua.LState) int {
	name := L.CheckString(1)
	if err := a.host.Registry.KillByName(name); err != nil {
		a.host.Echo.Echo(fmt.Sprintf("[%s: cannot kill %q: %v]", a.s.Name(), name, err))
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

func (a *API) luaRunning(L *lua.LState) int {
	L.Push(lua.LBool(a.host.Registry.Running(L.CheckString(1))))
	return 1
}

func (a *API) luaPaused(L *lua.LState) int {
	sc := a.host.Registry.Find(L.CheckString(1))
	L.Push(lua.LBool(sc != nil && sc.Paused()))
	return 1
}

// luaList returns the names of visible running scripts.
func (a *API) luaList(L *lua.LState) int {
	t := L.NewTable()
	for _, sc := range a.host.Registry.List() {
		if sc.Hidden() {
			continue
		}
		t.Append(lua.LString(sc.Name()))
	}
	L.Push(t)
	return 1
}

func (a *API) luaSendTo(L *lua.LState) int {
	name := L.CheckString(1)
	line := L.CheckString(2)
	sc := a.host.Registry.Find(name)
	if sc == nil {
		L.Push(lua.LFalse)
		return 1
	}
	sc.SendUnique(line)
	L.Push(lua.LTrue)
	return 1
}

func (a *API) luaStart(L *lua.LState) int {
	if a.host.Start == nil {
		L.Push(lua.LFalse)
		return 1
	}
	name := L.CheckString(1)
	args := make([]string, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.CheckString(i))
	}
	if err := a.host.Start(name, args); err != nil {
		a.host.Echo.Echo(fmt.Sprintf("[%s: cannot start %q: %v]", a.s.Name(), name, err))
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

// luaAtomic runs a Lua function under the process-wide coordination lock.
// The function is called on the same state, directly through L; going
// through State.CallFunction here would deadlock against the mutex held by
// the executing chunk.
func (a *API) luaAtomic(L *lua.LState) int {
	fn := L.CheckFunction(1)

	var callErr error
	a.host.Registry.Atomic(func() {
		L.Push(fn)
		callErr = L.PCall(0, 0, nil)
	})
	if callErr != nil {
		L.RaiseError("atomic: %v", callErr)
	}
	return 0
}
