package orchestrator

import (
	"fmt"
	"strings"
)

const (
	maxContextNotes     = 10
	maxScratchpadLength = 1000
)

// BasePrompts supplies the four textual base prompts the orchestrator
// selects between. A tagged variant over {planner, assistant_hooks,
// assistant_skilled, assistant_director} (spec.md §9 "no inheritance
// hierarchy; a tagged variant ... suffices").
type BasePrompts struct {
	Planner            string
	AssistantHooks     string
	AssistantSkilled   string
	AssistantDirector  string
	TwitterAddendum    string // appended only when channelType == "twitter"
}

// BuildSystemPrompt assembles the full system prompt in priority order:
// active skill > current task > base mode/subtype prompt > channel addenda
// > context summary. channelType may be empty.
func (o *Orchestrator) BuildSystemPrompt(prompts BasePrompts, channelType string) string {
	if o.context.Mode == ModeTaskPlanner && !o.context.PlannerCompleted {
		return o.renderPlannerPrompt(prompts.Planner)
	}

	base := prompts.AssistantDirector
	switch {
	case o.context.IsHookSession:
		base = prompts.AssistantHooks
	case o.currentSubtypeHasSkills():
		base = prompts.AssistantSkilled
	}

	return o.buildSystemPromptWithChannel(base, channelType, prompts.TwitterAddendum)
}

func (o *Orchestrator) renderPlannerPrompt(template string) string {
	out := strings.ReplaceAll(template, "{original_request}", o.context.OriginalRequest)
	out = strings.ReplaceAll(out, "{available_subtypes}", generateSubtypesTable())
	return out
}

func (o *Orchestrator) currentSubtypeHasSkills() bool {
	cfg, ok := GetSubtypeConfig(o.context.Subtype)
	return ok && len(cfg.SkillTags) > 0
}

func (o *Orchestrator) buildSystemPromptWithChannel(basePrompt, channelType, twitterAddendum string) string {
	var b strings.Builder

	// 1. Active skill goes first — overrides base prompt instructions when loaded.
	if skill := o.context.ActiveSkillPtr; skill != nil {
		b.WriteString("# >>> ACTIVE SKILL — FOLLOW THESE INSTRUCTIONS <<<\n\n")
		fmt.Fprintf(&b,
			"Skill `%s` is already loaded. Do not call set_agent_subtype or use_skill — "+
				"skip straight to the instructions below.\n\n", skill.Name)
		b.WriteString(skill.Instructions)
		b.WriteString("\n\n---\n\n")
	}

	// 2. Current task, with auto-injected action hints.
	if task := o.context.TaskQueue.CurrentTask(); task != nil {
		total := o.context.TaskQueue.Total()
		completed := o.context.TaskQueue.CompletedCount()

		skillHint := parseUseSkillHint(task.Description)
		spawnHint := parseSpawnSubagentHint(task.Description)
		autoCompleteHint := ""
		if task.AutoCompleteTool != "" {
			autoCompleteHint = fmt.Sprintf(
				"\n\nThis task auto-completes when `%s` succeeds. You do not need to call "+
					"task_fully_completed for it.", task.AutoCompleteTool)
		}

		fmt.Fprintf(&b,
			"# >>> CURRENT TASK (%d/%d) <<<\n\n%s%s%s%s\n\n"+
				"Complete ONLY this task. When done, call task_fully_completed with a summary.\n\n---\n\n",
			completed+1, total, task.Description, skillHint, spawnHint, autoCompleteHint)
	}

	// 3. Base mode/subtype prompt, with {available_subtypes} expanded.
	if strings.Contains(basePrompt, "{available_subtypes}") {
		basePrompt = strings.ReplaceAll(basePrompt, "{available_subtypes}", generateAvailableSubtypesList())
	}
	b.WriteString(basePrompt)

	// 4. Channel-specific addenda.
	if channelType == "twitter" && twitterAddendum != "" {
		b.WriteString("\n\n")
		b.WriteString(twitterAddendum)
	}

	// 5. Context summary.
	b.WriteString("\n\n---\n\n")
	b.WriteString(o.formatContextSummary())

	return b.String()
}

// parseUseSkillHint looks for the literal "Use skill: " pattern in a task
// description (spec.md §9 "Task-description parsing" — a non-match is a
// no-op, never an error).
func parseUseSkillHint(description string) string {
	const marker = "Use skill: "
	idx := strings.Index(description, marker)
	if idx < 0 {
		return ""
	}
	rest := description[idx+len(marker):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fmt.Sprintf(
		"\n\nACTION REQUIRED: call use_skill(skill_name=%q) to load this skill's instructions, then follow them.",
		fields[0])
}

// parseSpawnSubagentHint looks for "Spawn <subtype> sub-agent: <task>".
func parseSpawnSubagentHint(description string) string {
	const marker = "Spawn "
	start := strings.Index(description, marker)
	if start < 0 {
		return ""
	}
	rest := description[start+len(marker):]
	saPos := strings.Index(rest, " sub-agent")
	if saPos < 0 {
		return ""
	}
	subtype := strings.ToLower(strings.TrimSpace(rest[:saPos]))
	subtype = strings.ReplaceAll(subtype, " ", "_")

	afterSA := rest[saPos+len(" sub-agent"):]
	spawnTask := afterSA
	for _, prefix := range []string{": ", " — ", " - "} {
		if strings.HasPrefix(afterSA, prefix) {
			spawnTask = strings.TrimPrefix(afterSA, prefix)
			break
		}
	}
	spawnTask = strings.TrimSpace(spawnTask)
	if spawnTask == "" {
		spawnTask = description
	}
	escaped := strings.ReplaceAll(spawnTask, `"`, `\"`)
	return fmt.Sprintf(
		"\n\nACTION REQUIRED: call spawn_subagents(agents=[{\"task\": \"%s\", \"label\": \"%s\"}]) immediately. "+
			"Do not call set_agent_subtype or any other tool first.", escaped, subtype)
}

func (o *Orchestrator) formatContextSummary() string {
	var b strings.Builder

	b.WriteString("## Current Context\n\n")
	fmt.Fprintf(&b, "Request: %s\n\n", o.context.OriginalRequest)
	if o.context.Subtype != "" {
		fmt.Fprintf(&b, "Subtype: %s %s\n\n", SubtypeEmoji(o.context.Subtype), SubtypeLabel(o.context.Subtype))
	} else {
		b.WriteString("Subtype: none\n\n")
	}

	if o.context.SelectedNetwork != "" {
		fmt.Fprintf(&b, "Selected network: %s (use for web3 tool calls unless the user specifies otherwise)\n\n",
			o.context.SelectedNetwork)
	}

	if len(o.context.ExplorationNotes) > 0 {
		b.WriteString("### Notes\n\n")
		notes := o.context.ExplorationNotes
		skip := 0
		if len(notes) > maxContextNotes {
			skip = len(notes) - maxContextNotes
			fmt.Fprintf(&b, "_(showing last %d of %d notes)_\n", maxContextNotes, len(notes))
		}
		for _, n := range notes[skip:] {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		b.WriteString("\n")
	}

	if o.context.ActiveSkillPtr != nil {
		fmt.Fprintf(&b, "### Active skill: `%s`\n\nSkill instructions are at the top of this prompt.\n\n",
			o.context.ActiveSkillPtr.Name)
	}

	if o.context.Scratchpad != "" {
		b.WriteString("### Scratchpad\n\n")
		if len(o.context.Scratchpad) > maxScratchpadLength {
			b.WriteString(o.context.Scratchpad[:maxScratchpadLength])
			b.WriteString("\n_(truncated)_\n\n")
		} else {
			b.WriteString(o.context.Scratchpad)
			b.WriteString("\n\n")
		}
	}

	if o.context.WaitingForUserContext != "" {
		b.WriteString("### Actions completed before user question\n\n")
		b.WriteString("These actions were already completed in a previous turn. Do not repeat them.\n\n")
		b.WriteString(o.context.WaitingForUserContext)
		b.WriteString("\n\n")
	}

	return b.String()
}

func generateSubtypesTable() string {
	configs := AllSubtypeConfigs()
	var b strings.Builder
	b.WriteString("| Domain | Description |\n|--------|-------------|\n")
	any := false
	for _, c := range configs {
		if len(c.SkillTags) == 0 {
			continue
		}
		any = true
		fmt.Fprintf(&b, "| `%s` | %s |\n", c.Key, c.Description)
	}
	if !any {
		return "| Domain | Description |\n|--------|-------------|"
	}
	return b.String()
}

func generateAvailableSubtypesList() string {
	configs := AllSubtypeConfigs()
	var b strings.Builder
	any := false
	for _, c := range configs {
		if !c.Enabled || c.Hidden || len(c.SkillTags) == 0 {
			continue
		}
		any = true
		desc := c.Description
		if len(desc) > 200 {
			desc = desc[:200] + "..."
		}
		tags := ""
		if len(c.SkillTags) > 0 {
			tags = fmt.Sprintf(" [%s]", strings.Join(c.SkillTags, ", "))
		}
		fmt.Fprintf(&b, "- `%s` — %s%s\n", c.Key, desc, tags)
	}
	if !any {
		return "No specialized subtypes available."
	}
	return b.String()
}
