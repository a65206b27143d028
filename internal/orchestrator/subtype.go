package orchestrator

import "sort"

// SubtypeConfig describes one named role profile an agent can operate
// under (spec.md glossary: "Subtype").
type SubtypeConfig struct {
	Key         string
	Label       string
	Emoji       string
	Description string
	SkillTags   []string
	Enabled     bool
	Hidden      bool
	SortOrder   int
}

// subtypeRegistry is the package-level table of known subtypes. Real
// deployments extend this at init time (e.g. from config); the defaults
// here mirror the director/finance/code-engineer split spec.md's glossary
// names as examples.
var subtypeRegistry = map[string]SubtypeConfig{
	"director": {
		Key: "director", Label: "Director", Emoji: "🧭",
		Description: "Coordinates other subtypes and plans multi-step work.",
		SkillTags:   nil, // director has no delegatable skill domain
		Enabled:     true, SortOrder: 0,
	},
	"finance": {
		Key: "finance", Label: "Finance", Emoji: "💰",
		Description: "Wallet balances, transfers, and on-chain payments.",
		SkillTags:   []string{"local_wallet", "token_lookup"},
		Enabled:     true, SortOrder: 1,
	},
	"code_engineer": {
		Key: "code_engineer", Label: "Code Engineer", Emoji: "🛠️",
		Description: "Reads and edits repositories, runs builds and tests.",
		SkillTags:   []string{"repo_explore", "patch_apply"},
		Enabled:     true, SortOrder: 2,
	},
}

// RegisterSubtype adds or replaces a subtype configuration. Intended for
// process wiring at startup, not for runtime mutation during a turn.
func RegisterSubtype(cfg SubtypeConfig) {
	subtypeRegistry[cfg.Key] = cfg
}

// GetSubtypeConfig returns the config for key, if registered.
func GetSubtypeConfig(key string) (SubtypeConfig, bool) {
	cfg, ok := subtypeRegistry[key]
	return cfg, ok
}

// AllSubtypeConfigs returns every registered subtype, sorted by SortOrder
// then Key for determinism.
func AllSubtypeConfigs() []SubtypeConfig {
	out := make([]SubtypeConfig, 0, len(subtypeRegistry))
	for _, cfg := range subtypeRegistry {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// DefaultSubtypeKey returns the lowest-sort-order enabled, non-hidden
// subtype, used when a new orchestrator context is created without an
// explicit subtype.
func DefaultSubtypeKey() string {
	for _, cfg := range AllSubtypeConfigs() {
		if cfg.Enabled && !cfg.Hidden {
			return cfg.Key
		}
	}
	return ""
}

// SubtypeLabel returns the human label for key, or key itself if unknown.
func SubtypeLabel(key string) string {
	if cfg, ok := GetSubtypeConfig(key); ok {
		return cfg.Label
	}
	return key
}

// SubtypeEmoji returns the emoji for key, or "" if unknown.
func SubtypeEmoji(key string) string {
	if cfg, ok := GetSubtypeConfig(key); ok {
		return cfg.Emoji
	}
	return ""
}
