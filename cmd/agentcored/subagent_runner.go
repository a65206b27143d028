package main

import (
	"context"
	"fmt"

	"github.com/starkrun/agentcore/internal/agentloop"
	"github.com/starkrun/agentcore/internal/chatsession"
	"github.com/starkrun/agentcore/internal/orchestrator"
	"github.com/starkrun/agentcore/internal/subagent"
	"github.com/starkrun/agentcore/internal/toolctx"
)

// subagentRunner bridges internal/subagent.Manager to the agent loop: every
// spawned sub-agent gets its own gateway session and runs a single turn
// against the same driver the top-level chat API uses.
type subagentRunner struct {
	driver         *agentloop.Driver
	sessions       chatsession.Store
	newToolContext func(channelID, sessionID string) *toolctx.Context
}

func (r *subagentRunner) RunSubTask(ctx context.Context, req subagent.SubTaskRequest) (string, error) {
	sess, err := r.sessions.CreateGatewaySession(ctx, "subagent", req.SubAgentID, "subagent")
	if err != nil {
		return "", fmt.Errorf("subagent runner: create session: %w", err)
	}

	var tc *toolctx.Context
	if r.newToolContext != nil {
		tc = r.newToolContext(req.ParentChannelID, sess.ID)
	} else {
		tc = &toolctx.Context{ChannelID: req.ParentChannelID, ChannelType: "subagent", SessionID: sess.ID}
	}
	tc.CurrentSubAgentID = req.SubAgentID

	userText := req.Task
	if req.AdditionalContext != "" {
		userText = req.Task + "\n\n" + req.AdditionalContext
	}

	orch := orchestrator.New(userText, nil)
	orch.TransitionToAssistant()

	res, err := r.driver.RunTurn(ctx, agentloop.TurnRequest{
		Session:      sess,
		Orchestrator: orch,
		ToolContext:  tc,
		UserText:     userText,
		Model:        req.ModelOverride,
	})
	if err != nil {
		return "", err
	}
	return res.FinalResponse, nil
}
