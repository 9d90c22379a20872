package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/eta/internal/services/eta/lifecycle"
)

const hostTypeName = "eta.host"

// Lifecycle adapts a script exporting onAppStart, onServerStart,
// onDatabaseConnect and onServerStop functions. Missing functions are
// skipped.
type Lifecycle struct {
	script *Script
}

// LoadLifecycle loads a lifecycle script.
func LoadLifecycle(path string) (*Lifecycle, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Lifecycle{script: s}, nil
}

// Name returns the script name.
func (l *Lifecycle) Name() string { return l.script.Name() }

func (l *Lifecycle) OnAppStart(ctx context.Context, host lifecycle.Host) error {
	return l.fire(ctx, lifecycle.EventAppStart, host)
}

func (l *Lifecycle) OnServerStart(ctx context.Context, host lifecycle.Host) error {
	return l.fire(ctx, lifecycle.EventServerStart, host)
}

func (l *Lifecycle) OnDatabaseConnect(ctx context.Context, host lifecycle.Host) error {
	return l.fire(ctx, lifecycle.EventDatabaseConnect, host)
}

func (l *Lifecycle) OnServerStop(ctx context.Context, host lifecycle.Host) error {
	return l.fire(ctx, lifecycle.EventServerStop, host)
}

func (l *Lifecycle) fire(ctx context.Context, event lifecycle.Event, host lifecycle.Host) error {
	_, err := l.script.call([]string{string(event)}, func(state *lua.State) int {
		state.PushUserData(&hostHandle{ctx: ctx, host: host})
		lua.SetMetaTableNamed(state, hostTypeName)
		return 1
	})
	if errors.Is(err, errMissing) {
		return nil
	}
	return err
}

type hostHandle struct {
	ctx  context.Context
	host lifecycle.Host
}

var hostMethods = []lua.RegistryFunction{
	{Name: "config", Function: hostConfig},
	{Name: "exec", Function: hostExec},
	{Name: "query", Function: hostQuery},
}

func checkHost(state *lua.State) *hostHandle {
	handle, ok := lua.CheckUserData(state, 1, hostTypeName).(*hostHandle)
	if !ok || handle.host == nil {
		lua.Errorf(state, "invalid host")
		return nil
	}
	return handle
}

func hostConfig(state *lua.State) int {
	h := checkHost(state)
	cfg := h.host.Config()
	if cfg == nil {
		state.PushNil()
		return 1
	}
	pushValue(state, cfg.Get(lua.CheckString(state, 2)))
	return 1
}

func queryArgs(state *lua.State, from int) []any {
	var args []any
	for i := from; i <= state.Top(); i++ {
		args = append(args, luaToGo(state, i))
	}
	return args
}

// hostExec runs a statement and returns the number of affected rows.
func hostExec(state *lua.State) int {
	h := checkHost(state)
	db := h.host.DB()
	if db == nil {
		lua.Errorf(state, "no database is connected")
		return 0
	}
	result, err := db.ExecContext(h.ctx, lua.CheckString(state, 2), queryArgs(state, 3)...)
	if err != nil {
		lua.Errorf(state, "exec: %s", err.Error())
		return 0
	}
	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	state.PushInteger(int(affected))
	return 1
}

// hostQuery returns the rows as an array of column-keyed tables.
func hostQuery(state *lua.State) int {
	h := checkHost(state)
	db := h.host.DB()
	if db == nil {
		lua.Errorf(state, "no database is connected")
		return 0
	}
	rows, err := queryRows(h.ctx, h.host, lua.CheckString(state, 2), queryArgs(state, 3))
	if err != nil {
		lua.Errorf(state, "query: %s", err.Error())
		return 0
	}
	pushValue(state, rows)
	return 1
}

func queryRows(ctx context.Context, host lifecycle.Host, query string, args []any) ([]any, error) {
	rows, err := host.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []any{}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
