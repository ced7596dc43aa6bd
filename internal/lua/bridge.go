package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ToGo converts a Lua value to a Go value. Tables become []any when their
// keys form a contiguous 1-based integer sequence and map[string]any
// otherwise. Functions are not convertible and become nil.
func ToGo(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil // break circular reference
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LNilType:
		return nil
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})
	if count != maxN {
		isArray = false
	}

	if isArray && maxN > 0 {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = toGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = toGoVisited(v, visited)
	})
	return m
}

// ToLua converts a Go value to a Lua value on the given state.
func ToLua(L *lua.LState, v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []string:
		t := L.NewTable()
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, ToLua(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
