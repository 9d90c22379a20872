package script

import (
	"errors"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/eta/internal/services/eta/mvc"
	"github.com/louisbranch/eta/internal/services/eta/transform"
)

// Transformer is a request transformer script exporting any of onRequest,
// isRequestAuthorized and beforeResponse.
type Transformer struct {
	script *Script
}

// LoadTransformer loads a transformer script.
func LoadTransformer(path string) (*Transformer, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Transformer{script: s}, nil
}

// Name returns the script name.
func (t *Transformer) Name() string { return t.script.Name() }

// Factory binds the script to each request.
func (t *Transformer) Factory() transform.Factory {
	return func(c *mvc.Context) any {
		return &boundTransformer{script: t.script, ctx: c}
	}
}

type boundTransformer struct {
	script *Script
	ctx    *mvc.Context
}

func (b *boundTransformer) OnRequest(c *mvc.Context) error {
	_, err := b.invoke(transform.EventOnRequest, c, nil)
	return err
}

// IsRequestAuthorized treats only an explicit false as a veto.
func (b *boundTransformer) IsRequestAuthorized(c *mvc.Context, permissions []string) (bool, error) {
	result, err := b.invoke(transform.EventIsRequestAuthorized, c, permissions)
	if err != nil {
		return false, err
	}
	if allowed, ok := result.(bool); ok {
		return allowed, nil
	}
	return true, nil
}

func (b *boundTransformer) BeforeResponse(c *mvc.Context) error {
	_, err := b.invoke(transform.EventBeforeResponse, c, nil)
	return err
}

func (b *boundTransformer) invoke(event transform.Event, c *mvc.Context, permissions []string) (any, error) {
	if c == nil {
		c = b.ctx
	}
	result, err := b.script.call([]string{string(event)}, func(state *lua.State) int {
		pushContext(state, c)
		if permissions == nil {
			return 1
		}
		pushValue(state, permissions)
		return 2
	})
	if errors.Is(err, errMissing) {
		return nil, nil
	}
	return result, err
}
