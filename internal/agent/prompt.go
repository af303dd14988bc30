package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/inventory"
)

// DecisionRequest is everything the model sees for one decision.
type DecisionRequest struct {
	Objective     []string
	History       []HistoryEntry       // Oldest first.
	Observation   *schemas.Observation // Nil when the page could not be observed.
	Schema        *ResponseSchema
	Secrets       *inventory.Inventory // May be nil.
	Iteration     int                  // 1-based.
	MaxIterations int
}

const decisionPreamble = `You are a browser automation agent. You control a real web browser to achieve the user's objective.
Each turn you receive the objective, a short history of your previous steps and the current state of the page.
You answer with exactly one JSON object describing your decision. You never answer with prose.`

func buildSystemPrompt(rs *ResponseSchema, secrets *inventory.Inventory) string {
	var sb strings.Builder
	sb.WriteString(decisionPreamble)

	sb.WriteString("\n\nAvailable actions (use inside a BrowserAction decision):\n")
	for _, kind := range schemas.AllActionKinds {
		def := actionDefs[kind]
		fmt.Fprintf(&sb, "- %s: %s\n", kind, def.summary)
	}

	sb.WriteString(`
Decisions:
- BrowserAction: perform one action and observe the result next turn.
- ObjectiveComplete: the objective is achieved. Put the requested data in "result".
- ObjectiveFailed: the objective cannot be achieved. Explain why in "reason".

Rules:
- Address elements only by the index shown in the current observation. Indices change between observations.
- If an action failed, read the outcome in the history and try something different.
- Only declare ObjectiveComplete once the page confirms the objective is achieved.
`)

	if entries := secrets.Describe(); len(entries) > 0 {
		sb.WriteString("\nInventory. These values are secret and are not shown to you. Write the placeholder and it is substituted when the action runs:\n")
		for _, e := range entries {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", e.Name, e.Type, inventory.Placeholder(e.Name))
		}
	}

	sb.WriteString("\nYour reply must be a single JSON object that validates against this JSON Schema:\n")
	sb.WriteString(rs.GuidanceJSON())
	return sb.String()
}

func buildUserPrompt(req DecisionRequest, history []HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString("Objective:\n")
	for i, goal := range req.Objective {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, goal)
	}
	if req.MaxIterations > 0 {
		fmt.Fprintf(&sb, "\nThis is step %d of at most %d.\n", req.Iteration, req.MaxIterations)
	}

	if len(history) > 0 {
		sb.WriteString("\nPrevious steps (oldest first):\n")
		for _, h := range history {
			writeHistoryEntry(&sb, h)
		}
	}

	sb.WriteString("\nCurrent page:\n")
	if req.Observation == nil {
		sb.WriteString("(the page could not be observed this turn)\n")
	} else {
		writeObservation(&sb, *req.Observation)
	}
	sb.WriteString("\nDecide the next step. Respond with a single JSON object.")
	return sb.String()
}

func writeHistoryEntry(sb *strings.Builder, h HistoryEntry) {
	where := "unknown page"
	if h.Observation != nil {
		where = h.Observation.URL
	}
	decision := "(no valid decision)"
	if h.Decision != nil {
		decision = h.Decision.String()
	}
	fmt.Fprintf(sb, "- Step %d on %s: %s -> %s\n", h.Iteration, where, decision, h.Outcome)
	if h.Decision != nil && h.Decision.ProgressAssessment != "" {
		fmt.Fprintf(sb, "  Assessment: %s\n", h.Decision.ProgressAssessment)
	}
}

func writeObservation(sb *strings.Builder, obs schemas.Observation) {
	fmt.Fprintf(sb, "URL: %s\nTitle: %s\n", obs.URL, obs.Title)
	if len(obs.Elements) == 0 {
		sb.WriteString("Interactive elements: none\n")
	} else {
		sb.WriteString("Interactive elements:\n")
		for _, el := range obs.Elements {
			sb.WriteString(renderElement(el))
			sb.WriteByte('\n')
		}
	}
	if obs.Text != "" {
		sb.WriteString("Visible text:\n")
		sb.WriteString(obs.Text)
		sb.WriteByte('\n')
	}
}

func renderElement(el schemas.Element) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] <%s", el.Index, el.Tag)
	if el.Type != "" {
		fmt.Fprintf(&sb, " type=%s", el.Type)
	}
	if el.Role != "" {
		fmt.Fprintf(&sb, " role=%s", el.Role)
	}
	if el.Href != "" {
		fmt.Fprintf(&sb, " href=%q", el.Href)
	}
	if el.Value != "" {
		fmt.Fprintf(&sb, " value=%q", el.Value)
	}
	sb.WriteString(">")
	if el.Name != "" {
		fmt.Fprintf(&sb, " %q", el.Name)
	}
	return sb.String()
}

const extractionPreamble = `You extract structured data from a web page.
You receive a command and the current content of the page. Answer the command using only what the page shows.
You answer with a single JSON value and never with prose.`

func buildExtractionPrompts(command string, obs schemas.Observation, guidance string) (string, string) {
	system := extractionPreamble + "\n\nYour answer must validate against this JSON Schema:\n" + guidance

	var sb strings.Builder
	fmt.Fprintf(&sb, "Command: %s\n\nPage:\n", command)
	writeObservation(&sb, obs)
	sb.WriteString("\nRespond with the JSON value only.")
	return system, sb.String()
}
