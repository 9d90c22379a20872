package script

import (
	"github.com/Shopify/go-lua"

	"github.com/louisbranch/eta/internal/services/eta/mvc"
)

const contextTypeName = "eta.context"

type contextHandle struct {
	ctx *mvc.Context
}

var contextMethods = []lua.RegistryFunction{
	{Name: "raw", Function: ctxRaw},
	{Name: "view", Function: ctxView},
	{Name: "status", Function: ctxStatus},
	{Name: "redirect", Function: ctxRedirect},
	{Name: "error", Function: ctxError},
	{Name: "result", Function: ctxResult},
	{Name: "get", Function: ctxGet},
	{Name: "set", Function: ctxSet},
	{Name: "save", Function: ctxSave},
	{Name: "logged_in", Function: ctxLoggedIn},
	{Name: "param", Function: ctxParam},
	{Name: "method", Function: ctxMethod},
	{Name: "path", Function: ctxPath},
	{Name: "header", Function: ctxHeader},
	{Name: "config", Function: ctxConfig},
}

func registerTypes(state *lua.State) {
	registerType(state, contextTypeName, contextMethods)
	registerType(state, hostTypeName, hostMethods)
}

func registerType(state *lua.State, name string, methods []lua.RegistryFunction) {
	lua.NewMetaTable(state, name)
	state.NewTable()
	lua.SetFunctions(state, methods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func pushContext(state *lua.State, c *mvc.Context) {
	state.PushUserData(&contextHandle{ctx: c})
	lua.SetMetaTableNamed(state, contextTypeName)
}

func checkContext(state *lua.State) *mvc.Context {
	handle, ok := lua.CheckUserData(state, 1, contextTypeName).(*contextHandle)
	if !ok || handle.ctx == nil {
		lua.Errorf(state, "invalid request context")
		return nil
	}
	return handle.ctx
}

func ctxRaw(state *lua.State) int {
	c := checkContext(state)
	c.Res.Raw = luaToGo(state, 2)
	return 0
}

// ctxView sets one view key, or merges a table when called with a table.
func ctxView(state *lua.State) int {
	c := checkContext(state)
	if state.TypeOf(2) == lua.TypeTable {
		for key, value := range tableToMap(state, 2) {
			c.SetView(key, value)
		}
		return 0
	}
	key := lua.CheckString(state, 2)
	c.SetView(key, luaToGo(state, 3))
	return 0
}

func ctxStatus(state *lua.State) int {
	c := checkContext(state)
	if state.IsNoneOrNil(2) {
		state.PushInteger(c.Res.Status())
		return 1
	}
	c.Res.SetStatus(lua.CheckInteger(state, 2))
	return 0
}

func ctxRedirect(state *lua.State) int {
	c := checkContext(state)
	c.Redirect(lua.CheckString(state, 2))
	return 0
}

func ctxError(state *lua.State) int {
	c := checkContext(state)
	c.Error(lua.CheckInteger(state, 2), optMap(state, 3))
	return 0
}

func ctxResult(state *lua.State) int {
	c := checkContext(state)
	c.Result(lua.CheckInteger(state, 2), optMap(state, 3))
	return 0
}

func optMap(state *lua.State, index int) map[string]any {
	if state.IsNoneOrNil(index) {
		return nil
	}
	lua.CheckType(state, index, lua.TypeTable)
	return tableToMap(state, index)
}

func ctxGet(state *lua.State) int {
	c := checkContext(state)
	pushValue(state, c.Session.Get(lua.CheckString(state, 2)))
	return 1
}

func ctxSet(state *lua.State) int {
	c := checkContext(state)
	c.Session.Set(lua.CheckString(state, 2), luaToGo(state, 3))
	return 0
}

func ctxSave(state *lua.State) int {
	c := checkContext(state)
	if err := c.SaveSession(); err != nil {
		lua.Errorf(state, "save session: %s", err.Error())
	}
	return 0
}

func ctxLoggedIn(state *lua.State) int {
	c := checkContext(state)
	state.PushBoolean(c.IsLoggedIn())
	return 1
}

func ctxParam(state *lua.State) int {
	c := checkContext(state)
	state.PushString(c.Param(lua.CheckString(state, 2)))
	return 1
}

func ctxMethod(state *lua.State) int {
	c := checkContext(state)
	state.PushString(c.Req.Method)
	return 1
}

func ctxPath(state *lua.State) int {
	c := checkContext(state)
	state.PushString(c.MvcPath)
	return 1
}

func ctxHeader(state *lua.State) int {
	c := checkContext(state)
	state.PushString(c.Req.Header.Get(lua.CheckString(state, 2)))
	return 1
}

func ctxConfig(state *lua.State) int {
	c := checkContext(state)
	if c.Config == nil {
		state.PushNil()
		return 1
	}
	pushValue(state, c.Config.Get(lua.CheckString(state, 2)))
	return 1
}
