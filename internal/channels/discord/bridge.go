package discord

import (
	"context"
	"log/slog"

	"github.com/starkrun/agentcore/internal/agentloop"
	"github.com/starkrun/agentcore/internal/chatsession"
	"github.com/starkrun/agentcore/internal/orchestrator"
	"github.com/starkrun/agentcore/internal/toolctx"
	"github.com/starkrun/agentcore/pkg/models"
)

// ChannelType is the chatsession/toolctx channel identifier for Discord
// turns, distinct from the gateway HTTP API's "gateway" channel.
const ChannelType = "discord"

// NewToolContext builds the per-turn toolctx.Context for a channel+session
// pair, mirroring cmd/agentcored's gateway constructor (toolctx
// register store, tx queue, wallet, x402 client, sub-agent manager all
// wired identically regardless of which channel originated the turn).
type NewToolContext func(channelType, channelID, sessionID string) *toolctx.Context

// Bridge drains an Adapter's inbound Discord messages into the agent loop,
// resolving one chatsession per Discord channel via Store.GetOrCreate
// (spec.md §4.E's daily/idle reset policy, not CreateGatewaySession's
// always-fresh-row behavior) and sending the turn's final response back
// through the same Adapter.
type Bridge struct {
	adapter        *Adapter
	sessions       chatsession.Store
	driver         *agentloop.Driver
	newToolContext NewToolContext
	reset          chatsession.ResetConfig
	logger         *slog.Logger
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Adapter        *Adapter
	Sessions       chatsession.Store
	Driver         *agentloop.Driver
	NewToolContext NewToolContext
	Reset          chatsession.ResetConfig
	Logger         *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		adapter:        cfg.Adapter,
		sessions:       cfg.Sessions,
		driver:         cfg.Driver,
		newToolContext: cfg.NewToolContext,
		reset:          cfg.Reset,
		logger:         logger.With("component", "discord_bridge"),
	}
}

// Run consumes adapter.Messages() until ctx is cancelled or the channel
// closes. Each message is handled in its own goroutine so a slow turn on
// one Discord channel never blocks delivery on another.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.adapter.Messages():
			if !ok {
				return
			}
			go b.handle(ctx, msg)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, msg *models.Message) {
	if msg == nil {
		return
	}
	discordChannelID, _ := msg.Metadata["discord_channel_id"].(string)
	discordUserID, _ := msg.Metadata["discord_user_id"].(string)
	discordUsername, _ := msg.Metadata["discord_username"].(string)
	if discordChannelID == "" {
		return
	}

	sess, err := b.sessions.GetOrCreate(ctx, ChannelType, discordChannelID, discordChannelID, "discord", "default", b.reset)
	if err != nil {
		b.logger.Error("resolve session failed", "discord_channel_id", discordChannelID, "error", err)
		return
	}

	tc := b.newToolContext(ChannelType, discordChannelID, sess.ID)

	orch := orchestrator.New(msg.Content, b.logger)
	orch.TransitionToAssistant()

	res, err := b.driver.RunTurn(ctx, agentloop.TurnRequest{
		Session:      sess,
		Orchestrator: orch,
		ToolContext:  tc,
		UserText:     msg.Content,
	})
	if err != nil {
		b.logger.Error("turn failed", "discord_channel_id", discordChannelID, "user_id", discordUserID, "user", discordUsername, "error", err)
		return
	}

	reply := &models.Message{
		Channel:   models.ChannelDiscord,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   res.FinalResponse,
		Metadata:  map[string]any{"discord_channel_id": discordChannelID},
	}
	if err := b.adapter.Send(ctx, reply); err != nil {
		b.logger.Error("send reply failed", "discord_channel_id", discordChannelID, "error", err)
	}
}
