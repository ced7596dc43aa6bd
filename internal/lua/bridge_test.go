package lua

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestToGoScalars(t *testing.T) {
	cases := []struct {
		in   lua.LValue
		want any
	}{
		{lua.LNil, nil},
		{lua.LTrue, true},
		{lua.LNumber(3), int64(3)},
		{lua.LNumber(2.5), 2.5},
		{lua.LString("hi"), "hi"},
	}
	for _, c := range cases {
		if got := ToGo(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("ToGo(%v) = %v (%T), want %v", c.in, got, got, c.want)
		}
	}
}

func TestToGoArrayTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.Append(lua.LString("a"))
	tbl.Append(lua.LNumber(2))

	got := ToGo(tbl)
	want := []any{"a", int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGo = %v, want %v", got, want)
	}
}

func TestToGoMapTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("name", lua.LString("alpha"))
	tbl.RawSetString("count", lua.LNumber(2))

	got := ToGo(tbl)
	want := map[string]any{"name": "alpha", "count": int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGo = %v, want %v", got, want)
	}
}

func TestToGoCircularTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	got, ok := ToGo(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGo returned %T, want map", got)
	}
	if got["self"] != nil {
		t.Errorf("circular reference = %v, want nil", got["self"])
	}
}

func TestToLuaRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	cases := []any{
		true,
		int64(7),
		1.5,
		"hello",
		[]any{"a", int64(1)},
		map[string]any{"k": "v"},
	}
	for _, c := range cases {
		if got := ToGo(ToLua(L, c)); !reflect.DeepEqual(got, c) {
			t.Errorf("round trip of %v (%T) = %v (%T)", c, c, got, got)
		}
	}
}

func TestToLuaStringSlice(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	got := ToGo(ToLua(L, []string{"x", "y"}))
	want := []any{"x", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToLua([]string) round trip = %v, want %v", got, want)
	}
}

func TestToLuaStringMap(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	got := ToGo(ToLua(L, map[string]string{"a": "b"}))
	want := map[string]any{"a": "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToLua(map[string]string) round trip = %v, want %v", got, want)
	}
}
