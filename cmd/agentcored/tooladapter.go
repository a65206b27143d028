package main

import (
	"context"
	"encoding/json"

	"github.com/starkrun/agentcore/internal/tooldispatch"
	"github.com/starkrun/agentcore/internal/tools"
	"github.com/starkrun/agentcore/internal/toolctx"
)

// agentToolAdapter lifts the workspace-scoped internal/tools/* tools (built
// against the simpler tools.Tool contract: no toolctx, (result, error)
// returns) onto tooldispatch.Tool's uniform dispatch surface.
type agentToolAdapter struct {
	inner tools.Tool
}

func adaptTool(t tools.Tool) tooldispatch.Tool {
	return agentToolAdapter{inner: t}
}

func (a agentToolAdapter) Definition() tooldispatch.Definition {
	var schema tooldispatch.InputSchema
	_ = json.Unmarshal(a.inner.Schema(), &schema)
	return tooldispatch.Definition{
		Name:        a.inner.Name(),
		Description: a.inner.Description(),
		InputSchema: schema,
	}
}

func (a agentToolAdapter) Execute(ctx context.Context, args json.RawMessage, _ *toolctx.Context) tooldispatch.Result {
	res, err := a.inner.Execute(ctx, args)
	if err != nil {
		return tooldispatch.ErrorResult(err.Error())
	}
	return tooldispatch.Result{Success: !res.IsError, Content: res.Content}
}
