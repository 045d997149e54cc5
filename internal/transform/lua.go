// Package transform lets an operator script adjust aggregated readings
// before they are published and fed back, e.g. to correct a sensor that
// reads consistently high in one room.
package transform

import (
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"trv-manager/internal/directory"
)

// Lua runs a user script that may define
//
//	function adjust(area, kind, value) ... return value end
//
// Adjust is a no-op when the function is missing, errors, or returns a
// non-number. The interpreter is single-threaded, so calls are serialised.
type Lua struct {
	mu     sync.Mutex
	state  *lua.LState
	logger *slog.Logger
}

// NewLua loads and executes the script at path once. The script runs in a
// restricted state with no filesystem, process, or module access.
func NewLua(path string, logger *slog.Logger) (*Lua, error) {
	L := lua.NewState()
	sandbox(L)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("load transform script: %w", err)
	}

	return &Lua{state: L, logger: logger.With("component", "transform")}, nil
}

func sandbox(L *lua.LState) {
	for _, name := range []string{"os", "io", "require", "dofile", "loadfile", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (t *Lua) Adjust(area string, kind directory.Kind, value float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn := t.state.GetGlobal("adjust")
	if fn.Type() != lua.LTFunction {
		return value
	}

	err := t.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(area), lua.LString(string(kind)), lua.LNumber(value))
	if err != nil {
		t.logger.Warn("adjust call failed", "area", area, "kind", string(kind), "err", err)
		return value
	}

	ret := t.state.Get(-1)
	t.state.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		t.logger.Warn("adjust returned non-number", "area", area, "kind", string(kind))
		return value
	}
	return float64(n)
}

func (t *Lua) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Close()
}
