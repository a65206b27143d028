package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/starkrun/agentcore/internal/agentloop"
	"github.com/starkrun/agentcore/internal/broadcaster"
	"github.com/starkrun/agentcore/internal/channels/discord"
	"github.com/starkrun/agentcore/internal/chatsession"
	"github.com/starkrun/agentcore/internal/config"
	"github.com/starkrun/agentcore/internal/evmrpc"
	"github.com/starkrun/agentcore/internal/evmsign"
	"github.com/starkrun/agentcore/internal/gatewayapi"
	"github.com/starkrun/agentcore/internal/inbound"
	"github.com/starkrun/agentcore/internal/llmclient"
	"github.com/starkrun/agentcore/internal/orchestrator"
	"github.com/starkrun/agentcore/internal/scheduler"
	"github.com/starkrun/agentcore/internal/subagent"
	"github.com/starkrun/agentcore/internal/tooldispatch"
	"github.com/starkrun/agentcore/internal/toolctx"
	toolsexec "github.com/starkrun/agentcore/internal/tools/exec"
	toolsfiles "github.com/starkrun/agentcore/internal/tools/files"
	"github.com/starkrun/agentcore/internal/txqueue"
	"github.com/starkrun/agentcore/internal/x402"
)

// backgroundSessionReset governs GetOrCreate-based session resolution for
// channels other than the gateway HTTP API (scheduler jobs, Discord): an
// hour of inactivity starts a fresh session rather than CreateGatewaySession's
// always-new-row behavior (spec.md §4.E).
var backgroundSessionReset = chatsession.ResetConfig{Policy: chatsession.ResetIdle, IdleTimeoutMinutes: 60}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP API and agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "agentcore.yaml", "path to the YAML config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.Default()

	sessions, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	bc := broadcaster.New(broadcaster.DefaultBufferSize)

	registry := tooldispatch.NewRegistry()
	registerBuiltinTools(registry, cfg)

	var wallet *evmsign.Wallet
	var txQueue *txqueue.Queue
	var x402Client *x402.Client
	if cfg.Web3.WalletPrivateKeyEnv != "" {
		key := os.Getenv(cfg.Web3.WalletPrivateKeyEnv)
		if key == "" {
			return fmt.Errorf("serve: %s is not set", cfg.Web3.WalletPrivateKeyEnv)
		}
		wallet, err = evmsign.WalletFromHex(key)
		if err != nil {
			return fmt.Errorf("serve: burner wallet: %w", err)
		}
		rpcClient := evmrpc.New(cfg.Web3.RPCURL)
		txQueue = txqueue.New()
		x402Client = x402.New(wallet, rpcClient, rpcClient, cfg.Web3.ChainID, x402.WithMode(parseX402Mode(cfg.Web3.X402.Mode)))
		logger.Info("web3 signer enabled", "address", wallet.Address(), "chain_id", cfg.Web3.ChainID)
	}

	dispatcher := tooldispatch.NewDispatcher(registry, logger)

	anthropicCfg, ok := cfg.LLM.Providers["anthropic"]
	if !ok {
		return fmt.Errorf("serve: llm.providers missing an \"anthropic\" entry")
	}
	apiKey := anthropicCfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("serve: no anthropic api key configured")
	}
	llm := agentloop.LLMClient(llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: anthropicCfg.BaseURL,
		Model:   anthropicCfg.DefaultModel,
	}))

	driver := agentloop.New(llm, dispatcher, sessions, logger)

	var subagentMgr *subagent.Manager

	newToolContext := func(channelType, channelID, sessionID string) *toolctx.Context {
		tc := &toolctx.Context{
			ChannelID:   channelID,
			ChannelType: channelType,
			SessionID:   sessionID,
			Broadcaster: bc,
			Registers:   toolctx.NewRegisters(),
			Extra:       make(map[string]any),
		}
		if txQueue != nil {
			tc.TxQueue = txQueue
		}
		if wallet != nil {
			tc.WalletProvider = wallet
		}
		if x402Client != nil {
			tc.Extra["x402_client"] = x402Client
		}
		if subagentMgr != nil {
			tc.SubAgentManager = subagentMgr
		}
		return tc
	}
	gatewayToolContext := func(channelID, sessionID string) *toolctx.Context {
		return newToolContext("gateway", channelID, sessionID)
	}

	subagentMgr = subagent.New(
		subagent.DefaultConfig(),
		subagent.NewMemoryStore(),
		bc,
		&subagentRunner{driver: driver, sessions: sessions, newToolContext: gatewayToolContext},
		logger,
	)

	tokens := gatewayapi.NewTokenStore()
	gw := gatewayapi.New(gatewayapi.Config{
		Host:           cfg.Gateway.HTTPAPI.Host,
		Port:           gatewayPort(cfg),
		Sessions:       sessions,
		Driver:         driver,
		Tokens:         tokens,
		Broadcaster:    bc,
		AdminSecret:    os.Getenv(cfg.Gateway.HTTPAPI.AdminTokenEnv),
		NewToolContext: gatewayToolContext,
		Logger:         logger,
	})

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("serve: start gateway api: %w", err)
	}

	sched, err := buildScheduler(cfg, sessions, driver, newToolContext, logger)
	if err != nil {
		return fmt.Errorf("serve: build scheduler: %w", err)
	}
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("serve: start scheduler: %w", err)
		}
	}

	discordAdapter, discordBridge, err := buildDiscordChannel(cfg, sessions, driver, newToolContext, logger)
	if err != nil {
		return fmt.Errorf("serve: build discord channel: %w", err)
	}
	if discordAdapter != nil {
		if err := discordAdapter.Start(ctx); err != nil {
			return fmt.Errorf("serve: start discord adapter: %w", err)
		}
		go discordBridge.Run(ctx)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler shutdown error", "error", err)
		}
	}
	if discordAdapter != nil {
		if err := discordAdapter.Stop(shutdownCtx); err != nil {
			logger.Warn("discord adapter shutdown error", "error", err)
		}
	}
	return gw.Shutdown(shutdownCtx)
}

// buildScheduler constructs the cron/every/at job scheduler (spec.md §4.K)
// when scheduler.enabled is set, dispatching each due job as a synthesized
// inbound.Message through a GetOrCreate-resolved session.
func buildScheduler(cfg *config.Config, sessions chatsession.Store, driver *agentloop.Driver, newToolContext func(channelType, channelID, sessionID string) *toolctx.Context, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	dispatch := scheduler.DispatcherFunc(func(ctx context.Context, msg inbound.Message) (string, error) {
		sess, err := sessions.GetOrCreate(ctx, msg.ChannelType, msg.ChannelID, msg.ChatID, "scheduler", "default", backgroundSessionReset)
		if err != nil {
			return "", err
		}
		tc := newToolContext(msg.ChannelType, msg.ChannelID, sess.ID)
		orch := orchestrator.New(msg.Text, logger)
		orch.TransitionToAssistant()
		res, err := driver.RunTurn(ctx, agentloop.TurnRequest{
			Session:      sess,
			Orchestrator: orch,
			ToolContext:  tc,
			UserText:     msg.Text,
		})
		if err != nil {
			return "", err
		}
		return res.FinalResponse, nil
	})
	return scheduler.New(cfg.Scheduler, dispatch, scheduler.WithLogger(logger))
}

// buildDiscordChannel constructs a Discord adapter and its agent-loop bridge
// when channels.discord.enabled is set.
func buildDiscordChannel(cfg *config.Config, sessions chatsession.Store, driver *agentloop.Driver, newToolContext func(channelType, channelID, sessionID string) *toolctx.Context, logger *slog.Logger) (*discord.Adapter, *discord.Bridge, error) {
	dc := cfg.Channels.Discord
	if !dc.Enabled || strings.TrimSpace(dc.BotToken) == "" {
		return nil, nil, nil
	}
	adapter, err := discord.NewAdapter(discord.Config{Token: dc.BotToken, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("discord: %w", err)
	}
	bridge := discord.NewBridge(discord.BridgeConfig{
		Adapter:        adapter,
		Sessions:       sessions,
		Driver:         driver,
		NewToolContext: discord.NewToolContext(newToolContext),
		Reset:          backgroundSessionReset,
		Logger:         logger,
	})
	return adapter, bridge, nil
}

func gatewayPort(cfg *config.Config) int {
	if cfg.Gateway.HTTPAPI.Port != 0 {
		return cfg.Gateway.HTTPAPI.Port
	}
	return cfg.Server.HTTPPort
}

func buildSessionStore(cfg *config.Config) (chatsession.Store, error) {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return chatsession.NewMemoryStore(), nil
	}
	return chatsession.NewSQLiteStore(cfg.Database.URL)
}

func parseX402Mode(mode string) x402.Mode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "credits_only":
		return x402.CreditsOnly
	case "x402_only":
		return x402.X402Only
	default:
		return x402.Auto
	}
}

// registerBuiltinTools registers the filesystem and shell tools every agent
// turn can reach, scoped to the configured workspace directory.
func registerBuiltinTools(registry *tooldispatch.Registry, cfg *config.Config) {
	workspace := cfg.Workspace.Path
	if workspace == "" {
		workspace = "."
	}

	registry.Register(adaptTool(toolsfiles.NewReadTool(toolsfiles.Config{Workspace: workspace})))
	registry.Register(adaptTool(toolsfiles.NewWriteTool(toolsfiles.Config{Workspace: workspace})))
	registry.Register(adaptTool(toolsfiles.NewEditTool(toolsfiles.Config{Workspace: workspace})))
	registry.Register(adaptTool(toolsfiles.NewApplyPatchTool(toolsfiles.Config{Workspace: workspace})))

	execManager := toolsexec.NewManager(workspace)
	registry.Register(adaptTool(toolsexec.NewExecTool("shell", execManager)))
	registry.Register(adaptTool(toolsexec.NewProcessTool(execManager)))
}
