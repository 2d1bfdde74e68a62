package llm

import "strings"

// AuditorSystemPrompt frames every enrichment call.
const AuditorSystemPrompt = `Act as a senior security auditor. Output pure Markdown with a final "Instructions" section. For each issue: summary, risk, vulnerable snippet, fixed snippet.`

// AuditPrompt builds the enrichment request for one file: its issue subset
// (raw JSON) and its source text.
func AuditPrompt(issuesJSON, source string, maxOutputTokens int) Request {
	var b strings.Builder
	b.WriteString("## JSON\n```json\n")
	b.WriteString(issuesJSON)
	b.WriteString("\n```\n\n## Source Code\n```text\n")
	b.WriteString(source)
	b.WriteString("\n```\n## Output Rules\nPure Markdown only; include \"Instructions\" at the end.")
	return Request{
		System:          AuditorSystemPrompt,
		Prompt:          b.String(),
		MaxOutputTokens: maxOutputTokens,
	}
}
