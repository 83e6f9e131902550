package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// HandleCall is one plugin action invocation.
type HandleCall struct {
	Plugin   string
	UserID   string
	Action   string
	Entities map[string]any
}

// HandleResult is what handle() returned.
type HandleResult struct {
	Success bool
	Message string
	Data    map[string]any
}

// KV backs the script's global state table. Missing keys return an error.
type KV interface {
	Get(namespace, key string) (string, error)
	Set(namespace, key, value string) error
	Delete(namespace, key string) error
}

// RunHandle runs the Lua script at scriptPath, calling the global
// handle(user_id, action, entities) function. The script must return either
// a string (a successful message) or a table { success, message, data }.
// Scripts get base, table, string and math, a minimal os (getenv, time) and,
// when kv is non-nil, state.get/state.set/state.delete scoped to the plugin.
func RunHandle(ctx context.Context, scriptPath string, call HandleCall, kv KV) (*HandleResult, error) {
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer lState.Close()
	lState.SetContext(ctx)
	openSafeLibs(lState)
	lState.SetGlobal("os", newOSTable(lState))
	if kv != nil {
		lState.SetGlobal("state", newStateTable(lState, kv, call.Plugin))
	}

	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("handle")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function handle(user_id, action, entities)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("handle must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(lua.LString(call.UserID))
	lState.Push(lua.LString(call.Action))
	lState.Push(toLua(lState, call.Entities))
	if err := lState.PCall(3, 1, nil); err != nil {
		return nil, fmt.Errorf("handle(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTString:
		return &HandleResult{Success: true, Message: ret.String()}, nil
	case lua.LTTable:
		tbl := ret.(*lua.LTable)
		res := &HandleResult{}
		if v := tbl.RawGetString("success"); v.Type() == lua.LTBool {
			res.Success = v == lua.LTrue
		}
		if v := tbl.RawGetString("message"); v.Type() == lua.LTString {
			res.Message = v.String()
		}
		if v, ok := tbl.RawGetString("data").(*lua.LTable); ok {
			if m, ok := fromLua(v).(map[string]any); ok {
				res.Data = m
			}
		}
		return res, nil
	default:
		return nil, fmt.Errorf("handle() must return string or table { success, message, data }, got %s", ret.Type().String())
	}
}

func openSafeLibs(lState *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		lState.Push(lState.NewFunction(lib.fn))
		lState.Push(lua.LString(lib.name))
		lState.Call(1, 0)
	}
}

// newOSTable provides a minimal os module: getenv and time (for math.randomseed).
func newOSTable(lState *lua.LState) *lua.LTable {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		ls.Push(lua.LString(os.Getenv(key)))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	return mod
}

func newStateTable(lState *lua.LState, kv KV, namespace string) *lua.LTable {
	mod := lState.NewTable()
	lState.SetField(mod, "get", lState.NewFunction(func(ls *lua.LState) int {
		v, err := kv.Get(namespace, ls.CheckString(1))
		if err != nil {
			ls.Push(lua.LNil)
			return 1
		}
		ls.Push(lua.LString(v))
		return 1
	}))
	lState.SetField(mod, "set", lState.NewFunction(func(ls *lua.LState) int {
		if err := kv.Set(namespace, ls.CheckString(1), ls.CheckString(2)); err != nil {
			ls.RaiseError("state.set: %v", err)
		}
		return 0
	}))
	lState.SetField(mod, "delete", lState.NewFunction(func(ls *lua.LState) int {
		_ = kv.Delete(namespace, ls.CheckString(1))
		return 0
	}))
	return mod
}

func toLua(lState *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case []string:
		tbl := lState.NewTable()
		for _, s := range x {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := lState.NewTable()
		for _, e := range x {
			tbl.Append(toLua(lState, e))
		}
		return tbl
	case map[string]any:
		tbl := lState.NewTable()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(lState, x[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value to plain Go. Tables with only a 1..n sequence
// become []any, every other table becomes map[string]any.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case lua.LBool:
		return bool(x)
	case *lua.LTable:
		n := x.MaxN()
		count := 0
		x.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, fromLua(x.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any, count)
		x.ForEach(func(k, val lua.LValue) {
			m[k.String()] = fromLua(val)
		})
		return m
	default:
		return nil
	}
}
