package extractor

import "strings"

// systemPreamble enumerates the classification taxonomy and importance
// criteria (spec §4.3 Prompt contract; spec §9 Design Notes: the richer
// of two parallel source prompts, with explicit criteria tables, is
// normative).
const systemPreamble = `You are a memory extraction agent. Given one user/assistant exchange, project it into a single structured memory record.

CLASSIFICATION (choose exactly one):
- essential: durable facts central to who the user is or what they need (identity, stable preferences, hard constraints).
- contextual: useful background for the current task or project, unlikely to matter once the task ends.
- conversational: small talk, pleasantries, or exchanges with no standalone informational value.
- reference: pointers to external facts, documents, or resources the user mentioned.
- personal: details about the user's life, relationships, or circumstances not tied to a task.
- conscious-info: information important enough that it should be proactively surfaced in every future conversation.

IMPORTANCE (choose exactly one):
- critical: the user would be upset if this were forgotten; identity, safety, or hard constraints.
- high: materially affects how future responses should be shaped.
- medium: useful but not load-bearing.
- low: minor detail, safe to lose under storage pressure.

Emit a single JSON object with exactly these keys: content, summary, classification, importance, topic, entities, keywords, confidenceScore, classificationReason, promotionEligible. summary must be at most 200 characters. entities and keywords are arrays of strings. Do not include any text outside the JSON object.`

// BuildPrompt renders the two-part prompt contract: the fixed system
// preamble, and a user turn containing the conversation plus context
// block (spec §4.3 Prompt contract).
func BuildPrompt(in Input) (system, user string) {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	b.WriteString("User: ")
	b.WriteString(in.UserInput)
	b.WriteString("\nAssistant: ")
	b.WriteString(in.AIOutput)
	b.WriteString("\n")

	if len(in.Context.UserPreferences) > 0 {
		b.WriteString("\nKnown user preferences: ")
		b.WriteString(strings.Join(in.Context.UserPreferences, "; "))
	}
	if len(in.Context.CurrentProjects) > 0 {
		b.WriteString("\nCurrent projects: ")
		b.WriteString(strings.Join(in.Context.CurrentProjects, "; "))
	}
	if len(in.Context.RelevantSkills) > 0 {
		b.WriteString("\nRelevant skills: ")
		b.WriteString(strings.Join(in.Context.RelevantSkills, "; "))
	}

	return systemPreamble, b.String()
}
