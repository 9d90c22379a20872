// Package script runs Lua controllers, lifecycle handlers and request
// transformers. Each script file owns one Lua state; calls into a state are
// serialized.
package script

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/eta/internal/services/eta/mvc"
)

// Ext is the file extension of scripts.
const Ext = ".lua"

// exportsGlobal holds the table a script returned.
const exportsGlobal = "__eta_exports"

// Script is a loaded Lua file.
type Script struct {
	path  string
	mu    sync.Mutex
	state *lua.State
}

// Load runs the file at path, which must return a table.
func Load(path string) (*Script, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)
	registerTypes(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua %s: %w", path, err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua %s: %w", path, err)
	}
	if state.TypeOf(-1) != lua.TypeTable {
		state.Pop(1)
		return nil, fmt.Errorf("lua %s must return a table", path)
	}
	state.SetGlobal(exportsGlobal)
	return &Script{path: path, state: state}, nil
}

// Path returns the file the script was loaded from.
func (s *Script) Path() string { return s.path }

// Name returns the file name without directory or extension.
func (s *Script) Name() string {
	return strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
}

// pushExport pushes exports[keys[0]][keys[1]]..., or nil when a step is not
// a table. The caller restores the stack.
func (s *Script) pushExport(keys ...string) {
	s.state.Global(exportsGlobal)
	for _, key := range keys {
		if s.state.TypeOf(-1) != lua.TypeTable {
			s.state.Pop(1)
			s.state.PushNil()
			return
		}
		s.state.Field(-1, key)
		s.state.Remove(-2)
	}
}

// HasFunction reports whether the export path names a function.
func (s *Script) HasFunction(keys ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.state.Top()
	defer s.state.SetTop(top)
	s.pushExport(keys...)
	return s.state.IsFunction(-1)
}

// Export returns the Go value at the export path; functions become nil.
func (s *Script) Export(keys ...string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.state.Top()
	defer s.state.SetTop(top)
	s.pushExport(keys...)
	return luaToGo(s.state, -1)
}

// call invokes the function at the export path with the values pushed by
// push and returns its first result converted to Go. A missing function
// reports errMissing.
func (s *Script) call(keys []string, push func(*lua.State) int) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.state.Top()
	defer s.state.SetTop(top)

	s.pushExport(keys...)
	if !s.state.IsFunction(-1) {
		return nil, errMissing
	}
	argCount := 0
	if push != nil {
		argCount = push(s.state)
	}
	if err := s.state.ProtectedCall(argCount, 1, 0); err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.Name(), strings.Join(keys, "."), err)
	}
	return luaToGo(s.state, -1), nil
}

var errMissing = errors.New("function is not defined")

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	case lua.TypeUserData:
		return state.ToUserData(index)
	default:
		return nil
	}
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}
	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

// tableToGo returns a []any for sequences and a map otherwise.
func tableToGo(state *lua.State, index int) any {
	index = state.AbsIndex(index)
	isArray := true
	maxIndex, count := 0, 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				maxIndex = max(maxIndex, idx)
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}
	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}
	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 && math.Abs(value) < math.MaxInt32 {
		return int(value)
	}
	return value
}

func stringList(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// pushValue pushes a Go value decoded from JSON, params or the database.
func pushValue(state *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		state.PushNil()
	case bool:
		state.PushBoolean(v)
	case string:
		state.PushString(v)
	case []byte:
		state.PushString(string(v))
	case int:
		state.PushInteger(v)
	case int64:
		state.PushNumber(float64(v))
	case float64:
		state.PushNumber(v)
	case []any:
		state.CreateTable(len(v), 0)
		for i, item := range v {
			pushValue(state, item)
			state.RawSetInt(-2, i+1)
		}
	case []string:
		state.CreateTable(len(v), 0)
		for i, item := range v {
			state.PushString(item)
			state.RawSetInt(-2, i+1)
		}
	case mvc.Params:
		pushMap(state, v)
	case map[string]any:
		pushMap(state, v)
	case map[string]string:
		state.CreateTable(0, len(v))
		for key, item := range v {
			state.PushString(item)
			state.SetField(-2, key)
		}
	default:
		state.PushString(fmt.Sprint(v))
	}
}

func pushMap(state *lua.State, m map[string]any) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	state.CreateTable(0, len(m))
	for _, key := range keys {
		pushValue(state, m[key])
		state.SetField(-2, key)
	}
}
