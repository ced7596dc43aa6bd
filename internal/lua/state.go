package lua

import (
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// State wraps a sandboxed gopher-lua state.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. All operations on a
// State must be called from a single goroutine, or external synchronization
// must be used. The mutex in this struct protects against concurrent access
// from Go code, but Lua code execution is inherently single-threaded.
//
// A script's State is owned by the script's body goroutine. Shutdown runs on
// that same goroutine, so exit callbacks may still call into the state; the
// state is closed only after the shutdown sequence completes.
type State struct {
	L *lua.LState

	mu sync.Mutex

	closed bool
}

// NewState creates a new sandboxed Lua state.
func NewState() (*State, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // open selectively below
	})

	openSafeLibraries(L)
	removeUnsafeGlobals(L)

	return &State{L: L}, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	// Base library (type, pairs, ipairs, pcall, tostring, etc.)
	lua.OpenBase(L)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Note: These are intentionally NOT opened:
	// - io (file system access)
	// - os (system calls, execute)
	// - debug (can bypass sandbox)
	// - package (can load arbitrary modules)
}

// removeUnsafeGlobals strips base functions that could be used to load and
// run arbitrary code from outside the script source.
func removeUnsafeGlobals(L *lua.LState) {
	for _, name := range []string{
		"dofile",     // load and execute file
		"loadfile",   // load file as function
		"load",       // load string as function
		"loadstring", // deprecated alias of load
		"print",      // scripts echo through the mud module instead
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Run compiles and executes src as a chunk named name and returns the
// chunk's first return value converted to Go, or nil when the chunk returns
// nothing. Execution is synchronous.
func (s *State) Run(src, name string) (result any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	fn, err := s.L.Load(strings.NewReader(src), name)
	if err != nil {
		return nil, err
	}

	top := s.L.GetTop()
	s.L.Push(fn)
	if err := s.L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, err
	}

	nRet := s.L.GetTop() - top
	if nRet <= 0 {
		return nil, nil
	}
	result = ToGo(s.L.Get(top + 1))
	s.L.Pop(nRet)
	return result, nil
}

// DoString executes a Lua string.
func (s *State) DoString(code string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	return s.L.DoString(code)
}

// CallFunction calls a Lua function value with the given arguments,
// discarding any return values.
func (s *State) CallFunction(fn lua.LValue, args ...lua.LValue) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	if fn == nil || fn.Type() != lua.LTFunction {
		return ErrNotAFunction
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}
	return s.L.PCall(len(args), 0, nil)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// RegisterModule registers a module table with the given functions as a
// global.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	s.L.SetGlobal(name, mod)
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state. Close is
// idempotent; after Close, all other methods return ErrStateClosed or
// no-op.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
