package orchestrator

import (
	"strings"
	"testing"
)

func TestResetTurnCountersZeroesAllFour(t *testing.T) {
	o := New("do a thing", nil)
	o.context.ModeIterations = 5
	o.context.TotalIterations = 5
	o.context.ActualToolCalls = 2
	o.context.NoToolWarnings = 1

	o.ResetTurnCounters()

	if o.context.ModeIterations != 0 || o.context.TotalIterations != 0 ||
		o.context.ActualToolCalls != 0 || o.context.NoToolWarnings != 0 {
		t.Fatalf("expected all counters zero, got %+v", o.context)
	}
}

func TestNoToolWarningLoopEscapesAfterFive(t *testing.T) {
	o := New("balance check", nil)

	for i := 1; i <= 5; i++ {
		o.RecordIteration()
		msg, count, ok := o.CheckToolCallRequired()
		if !ok {
			t.Fatalf("expected warning %d to fire", i)
		}
		if count != i {
			t.Fatalf("expected warning count %d, got %d", i, count)
		}
		if !strings.Contains(msg, "MUST call a tool") {
			t.Fatalf("expected warning text, got %q", msg)
		}
	}

	// Sixth attempt: cap reached, let it through.
	o.RecordIteration()
	_, count, ok := o.CheckToolCallRequired()
	if ok {
		t.Fatal("expected sixth warning to be suppressed")
	}
	if count != 5 {
		t.Fatalf("expected no_tool_warnings capped at 5, got %d", count)
	}
}

func TestCheckToolCallRequiredResetsOnToolCall(t *testing.T) {
	o := New("x", nil)
	o.RecordIteration()
	if _, _, ok := o.CheckToolCallRequired(); !ok {
		t.Fatal("expected warning on first no-tool iteration")
	}
	o.RecordToolCall("exec")
	if o.context.NoToolWarnings != 0 {
		t.Fatalf("expected tool call to reset warnings, got %d", o.context.NoToolWarnings)
	}
}

func TestTransitionToAssistantIsOneWay(t *testing.T) {
	o := New("plan this", nil)
	if o.CurrentMode() != ModeTaskPlanner {
		t.Fatal("expected to start in TaskPlanner mode")
	}
	o.TransitionToAssistant()
	if o.CurrentMode() != ModeAssistant || !o.context.PlannerCompleted {
		t.Fatalf("expected Assistant mode + planner_completed, got %+v", o.context)
	}
}

func TestCheckForcedTransitionNeverTransitionsItself(t *testing.T) {
	o := New("x", nil)
	o.context.ModeIterations = MaxIterations
	_, ok := o.CheckForcedTransition()
	if ok {
		t.Fatal("expected CheckForcedTransition to never itself report a transition (spec.md §9)")
	}
}

func TestBuildSystemPromptOrdering(t *testing.T) {
	o := New("summarize commits", nil)
	o.TransitionToAssistant()
	o.context.ActiveSkillPtr = &ActiveSkill{Name: "local_wallet", Instructions: "Check balances first."}
	o.context.TaskQueue.Append("Use skill: local_wallet for balance")
	o.context.TaskQueue.PopNext()

	prompts := BasePrompts{AssistantDirector: "BASE PROMPT BODY"}
	out := o.BuildSystemPrompt(prompts, "")

	skillIdx := strings.Index(out, "ACTIVE SKILL")
	taskIdx := strings.Index(out, "CURRENT TASK")
	baseIdx := strings.Index(out, "BASE PROMPT BODY")
	ctxIdx := strings.Index(out, "Current Context")

	if !(skillIdx < taskIdx && taskIdx < baseIdx && baseIdx < ctxIdx) {
		t.Fatalf("expected ordering skill < task < base < context, got %d %d %d %d",
			skillIdx, taskIdx, baseIdx, ctxIdx)
	}
	if !strings.Contains(out, "use_skill(skill_name=\"local_wallet\")") {
		t.Fatalf("expected use_skill hint injected, got:\n%s", out)
	}
}

func TestParseSpawnSubagentHint(t *testing.T) {
	hint := parseSpawnSubagentHint("Spawn finance sub-agent: check all balances")
	if !strings.Contains(hint, `"task": "check all balances"`) {
		t.Fatalf("expected task text extracted, got %q", hint)
	}
	if !strings.Contains(hint, `"label": "finance"`) {
		t.Fatalf("expected subtype label extracted, got %q", hint)
	}
}

func TestParseSpawnSubagentHintNoMatchIsNoOp(t *testing.T) {
	if hint := parseSpawnSubagentHint("just a normal task description"); hint != "" {
		t.Fatalf("expected no-op for non-matching description, got %q", hint)
	}
}
