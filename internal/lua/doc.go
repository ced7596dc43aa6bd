// Package lua provides the Lua runtime in which mudlark scripts execute.
//
// Each running script owns one sandboxed Lua state. The state is created
// with a restricted library set (base, table, string, math) — io, os, debug,
// and package are never opened — and the remaining unsafe base functions are
// removed after load.
//
// gopher-lua's LState is not goroutine-safe, so state usage follows a strict
// ownership rule: a script's state is touched only by its body goroutine,
// which also runs the shutdown sequence (including Lua exit callbacks)
// before the state is closed. Watch actions, which run concurrently with
// the body, execute on their own short-lived states bound to the same
// script; they share the host API but not the body's Lua globals.
//
// The mud API module (see api.go) is the closed set of operations scripts
// can perform: buffer reads, watch registration, command output, pause and
// exit control, cross-script supervision, and atomic sections.
package lua
