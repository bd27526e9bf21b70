package agent

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
)

// Prompt placeholders.
const (
	PlaceholderTools           = "{tools}"
	PlaceholderPurpose         = "{purpose}"
	PlaceholderAvailableAgents = "{available_agents}"
)

// DefaultObservationMaxChars 观察结果写入对话时的字符上限
const DefaultObservationMaxChars = 2000

// DefaultSystemPrompt is used when an agent has no prompt of its own.
const DefaultSystemPrompt = `You are an autonomous agent. Your purpose: {purpose}

Available tools:
{tools}

Agents you can delegate to:
{available_agents}

Work one step at a time. In every step, first state your reasoning, then call exactly one tool.
After each tool call you will be told what happened. Check whether the action succeeded before deciding the next one, and never repeat an action that already succeeded.
When the task is complete, reply with your final answer and do not call any tool.`

const textCallInstructions = `

You cannot call tools natively. To call a tool, end your reply with a single line of the form:
Action: tool_id(param1=value1, param2=value2)
Reply without an Action line once the task is complete.`

const (
	noToolsText  = "No tools available"
	noAgentsText = "No agents available"
)

// RenderSystemPrompt interpolates an agent's prompt template.
func RenderSystemPrompt(def *types.AgentDefinition, toolDefs []types.ToolDefinition, delegates []*types.AgentDefinition, native bool) string {
	tmpl := def.SystemPrompt
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultSystemPrompt
	}
	r := strings.NewReplacer(
		PlaceholderTools, FormatToolList(toolDefs, !native),
		PlaceholderPurpose, def.Purpose,
		PlaceholderAvailableAgents, FormatAgentList(delegates),
	)
	prompt := r.Replace(tmpl)
	if !native && len(toolDefs) > 0 {
		prompt += textCallInstructions
	}
	return prompt
}

// FormatToolList renders one "- Name (id): description" line per tool. With
// withParams each line is followed by the tool's parameters, for providers that
// only see tools through the prompt.
func FormatToolList(defs []types.ToolDefinition, withParams bool) string {
	if len(defs) == 0 {
		return noToolsText
	}
	var b strings.Builder
	for i, def := range defs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (%s): %s", def.DisplayName(), def.ID, def.Description)
		if !withParams || len(def.Parameters) == 0 {
			continue
		}
		params := make([]string, 0, len(def.Parameters))
		for _, p := range def.Parameters {
			s := fmt.Sprintf("%s: %s", p.Name, p.Type)
			if p.Required {
				s += ", required"
			}
			if len(p.Enum) > 0 {
				s += ", one of " + strings.Join(p.Enum, "|")
			}
			params = append(params, s)
		}
		fmt.Fprintf(&b, "\n  parameters: %s", strings.Join(params, "; "))
	}
	return b.String()
}

// FormatAgentList renders one "- id: purpose" line per agent.
func FormatAgentList(agents []*types.AgentDefinition) string {
	if len(agents) == 0 {
		return noAgentsText
	}
	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		lines = append(lines, fmt.Sprintf("- %s: %s", a.ID, a.Purpose))
	}
	return strings.Join(lines, "\n")
}

// FormatObservation renders a tool result for the transcript. Details are
// truncated to maxChars runes; hidden results are replaced by a note.
func FormatObservation(def types.ToolDefinition, res types.ToolCallResult, maxChars int) string {
	name := def.DisplayName()
	if name == "" {
		name = res.ToolID
	}
	if !res.Success {
		return fmt.Sprintf("[FAILED] Tool '%s': Failed\nDetails: %s", name, truncate(res.Error, maxChars))
	}
	details := res.ResultText()
	switch {
	case def.HideResult:
		details = "result delivered to the user, not shown here"
	case details == "":
		details = "no output"
	}
	return fmt.Sprintf("[SUCCESS] Tool '%s': Succeeded\nDetails: %s", name, truncate(details, maxChars))
}

// actionTurn renders an executed tool call as an assistant turn.
func actionTurn(thought string, call types.ToolCallRequest) llm.Message {
	var b strings.Builder
	if thought != "" {
		b.WriteString("Thought: ")
		b.WriteString(thought)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Action: %s(%s)", call.ToolID, tools.CanonicalArguments(call.Arguments))
	return llm.Message{Role: llm.RoleAssistant, Content: b.String()}
}

// feedbackTurn wraps an observation in a user turn that asks the model to judge it.
func feedbackTurn(observation string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: "Observation from your last action:\n" + observation +
		"\n\nDid that action succeed? Is the task now complete? " +
		"If it is complete, reply with your final answer and do not call any tool. " +
		"Otherwise decide the next action. Do not repeat an action that already succeeded."}
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "... (truncated)"
}
