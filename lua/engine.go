package lua

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ErrNoScript is returned by EvalSHA for an unknown digest
var ErrNoScript = errors.New("NOSCRIPT no matching script, use eval")

// Store is the view of the cache a script operates on
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) bool
}

// Option configures an Engine
type Option func(*Engine)

// WithTimeout bounds the running time of a single script
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// Engine executes Lua scripts and caches them by SHA1 digest
type Engine struct {
	scripts sync.Map // map[string]string - SHA1 -> script content
	timeout time.Duration
}

// NewEngine creates a new Lua execution engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eval executes a Lua script with the given keys against st
func (e *Engine) Eval(st Store, script string, keys []string) (interface{}, error) {
	L := newState()
	defer L.Close()

	if e.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		L.SetContext(ctx)
	}

	e.setupCacheAPI(L, st, keys)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("script execution error: %w", err)
	}

	return convertLuaValue(L.Get(-1)), nil
}

// EvalSHA executes a previously loaded script by its SHA1 hash
func (e *Engine) EvalSHA(st Store, sha string, keys []string) (interface{}, error) {
	script, exists := e.scripts.Load(strings.ToLower(sha))
	if !exists {
		return nil, ErrNoScript
	}
	return e.Eval(st, script.(string), keys)
}

// LoadScript caches a script and returns its SHA1 hash
func (e *Engine) LoadScript(script string) string {
	hash := Digest(script)
	e.scripts.Store(hash, script)
	return hash
}

// ScriptExists checks if scripts with given SHA1 hashes exist
func (e *Engine) ScriptExists(hashes []string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, exists := e.scripts.Load(strings.ToLower(hash))
		results[i] = exists
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Range(func(key, value interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

// Digest returns the lowercase hex SHA1 of a script
func Digest(script string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(script)))
}

// newState opens an interpreter with a restricted standard library
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// setupCacheAPI installs KEYS and the cache table
func (e *Engine) setupCacheAPI(L *lua.LState, st Store, keys []string) {
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key)) // Lua arrays are 1-indexed
	}
	L.SetGlobal("KEYS", keysTable)

	cacheTable := L.NewTable()
	L.SetFuncs(cacheTable, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			result, err := callCommand(L, st)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(convertToLuaValue(L, result))
			return 1
		},
		"pcall": func(L *lua.LState) int {
			result, err := callCommand(L, st)
			if err != nil {
				// Return error as a table with 'err' field
				errTable := L.NewTable()
				errTable.RawSetString("err", lua.LString(err.Error()))
				L.Push(errTable)
				return 1
			}
			L.Push(convertToLuaValue(L, result))
			return 1
		},
	})
	L.SetGlobal("cache", cacheTable)
}

// callCommand reads a command and its arguments off the Lua stack
func callCommand(L *lua.LState, st Store) (interface{}, error) {
	argc := L.GetTop()
	if argc == 0 {
		return nil, fmt.Errorf("wrong number of arguments for cache command")
	}

	cmdName := L.ToString(1)
	if cmdName == "" {
		return nil, fmt.Errorf("command name must be a string")
	}

	args := make([]string, argc-1)
	for i := 2; i <= argc; i++ {
		args[i-2] = L.ToString(i)
	}

	return executeCommand(st, strings.ToLower(cmdName), args)
}

// executeCommand executes a cache command against the store
func executeCommand(st Store, cmd string, args []string) (interface{}, error) {
	switch cmd {
	case "get":
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'get' command")
		}
		value, exists := st.Get(args[0])
		if !exists {
			return nil, nil
		}
		return string(value), nil

	case "set":
		if len(args) != 2 {
			return nil, fmt.Errorf("wrong number of arguments for 'set' command")
		}
		if err := st.Set(args[0], []byte(args[1])); err != nil {
			return nil, err
		}
		return "OK", nil

	case "delete":
		if len(args) == 0 {
			return nil, fmt.Errorf("wrong number of arguments for 'delete' command")
		}
		var deleted int64
		for _, key := range args {
			if st.Delete(key) {
				deleted++
			}
		}
		return deleted, nil

	case "exists":
		if len(args) == 0 {
			return nil, fmt.Errorf("wrong number of arguments for 'exists' command")
		}
		var count int64
		for _, key := range args {
			if _, ok := st.Get(key); ok {
				count++
			}
		}
		return count, nil

	default:
		return nil, fmt.Errorf("unknown or unsupported command: %s", cmd)
	}
}

// convertToLuaValue converts a Go value to a Lua value
func convertToLuaValue(L *lua.LState, value interface{}) lua.LValue {
	if value == nil {
		return lua.LFalse // a miss becomes false in Lua
	}

	switch v := value.(type) {
	case string:
		return lua.LString(v)
	case int64:
		return lua.LNumber(float64(v))
	case int:
		return lua.LNumber(float64(v))
	case float64:
		return lua.LNumber(v)
	case bool:
		return lua.LBool(v)
	case []interface{}:
		table := L.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, convertToLuaValue(L, item))
		}
		return table
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// convertLuaValue converts a Lua value to a Go value
func convertLuaValue(lv lua.LValue) interface{} {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LNilType:
		return nil
	case *lua.LTable:
		if isArrayLikeTable(v) {
			result := make([]interface{}, 0, v.Len())
			for i := 1; i <= v.Len(); i++ {
				result = append(result, convertLuaValue(v.RawGetInt(i)))
			}
			return result
		}
		result := make(map[string]interface{})
		v.ForEach(func(k, val lua.LValue) {
			result[k.String()] = convertLuaValue(val)
		})
		return result
	default:
		return lv.String()
	}
}

// isArrayLikeTable checks if a Lua table has only consecutive integer keys starting from 1
func isArrayLikeTable(table *lua.LTable) bool {
	length := table.Len()
	for i := 1; i <= length; i++ {
		if table.RawGetInt(i) == lua.LNil {
			return false
		}
	}

	arrayLike := true
	table.ForEach(func(k, v lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok {
			arrayLike = false
			return
		}
		idx := int(num)
		if float64(idx) != float64(num) || idx < 1 || idx > length {
			arrayLike = false
		}
	})
	return arrayLike
}
