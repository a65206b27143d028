package toolctx

import "context"

// Broadcaster is the subset of internal/broadcaster.Broadcaster a tool needs
// to publish events. Declared locally (rather than imported) so toolctx has
// no dependency on the broadcaster, txqueue, or subagent packages — those
// packages depend on toolctx instead, not the other way around.
type Broadcaster interface {
	Broadcast(event string, data map[string]any)
}

// TxQueue is the subset of internal/txqueue.Queue a tool needs to queue and
// inspect signed transactions.
type TxQueue interface {
	Pending(channelID string) int
}

// WalletProvider signs payloads on behalf of the configured burner wallet.
// Implemented by internal/evmsign and by test doubles.
type WalletProvider interface {
	Address() string
	Sign(digest [32]byte) ([]byte, error)
}

// SubAgentManager is the subset of internal/subagent.Manager a tool needs to
// spawn and cancel sub-agents.
type SubAgentManager interface {
	ActiveCountForChannel(channelID string) int
}

// Database is an opaque handle tools may use for direct persistence needs
// beyond registers (e.g. memory search). The concrete type is supplied by
// the process wiring the tool context together; the core never inspects it.
type Database any

// ProcessManager is the subset of process-spawning capability (`exec`,
// sandboxed shells) a tool may use. Left opaque for the same reason as
// Database — only channel/tool-specific code inspects it.
type ProcessManager any

// Context is the immutable-by-convention bundle passed to every tool
// invocation. It is constructed once per turn by the agent loop and reused
// across every tool call within that turn.
type Context struct {
	ChannelID   string
	ChannelType string
	SessionID   string
	WorkspaceDir string

	APIKeys map[string]string

	Broadcaster     Broadcaster
	Database        Database
	TxQueue         TxQueue
	WalletProvider  WalletProvider
	SubAgentManager SubAgentManager
	ProcessManager  ProcessManager

	Registers *Registers
	Extra     map[string]any

	CurrentSubAgentID    string
	CurrentSubAgentDepth int
}

// ctxKey is the context.Context key under which a *Context is threaded
// through standard-library contexts when a tool's Execute signature prefers
// it (most tools take it explicitly instead; this is for interop with
// context-first call sites like http.Handler chains).
type ctxKey struct{}

// WithContext attaches tc to ctx.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext retrieves a *Context previously attached with WithContext.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(*Context)
	return tc, ok
}
