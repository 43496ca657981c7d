package conversation

import (
	"fmt"
	"strings"

	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/knowledge"
)

const promptInstructions = `You are a benefits assistant for company employees. Answer questions
about insurance benefits, claims and submissions using ONLY the knowledge
entries provided below. Be concise and factual; quote concrete numbers and
limits exactly as written in the entries.

Respond with a single JSON object and nothing else:
{"answer": "<your reply to the employee>", "needs_escalation": <true|false>}

Set "needs_escalation" to true when the knowledge entries do not answer the
question, and in that case the answer must apologize, say the question will
be forwarded to HR staff, and ask the employee for a phone number or email
address so HR can reach them.`

const contactHintInstruction = `The employee has JUST provided their contact details for the open HR
escalation. Acknowledge receipt of the contact information and confirm HR
staff will reach out. Do NOT ask what the message means and do NOT ask for
contact details again. Set "needs_escalation" to false.`

// buildPrompt assembles the single completion prompt: fixed instructions,
// employee profile, retrieved contexts tagged with similarity, recent
// history, the state hint when contact info just arrived, and the question.
func buildPrompt(emp *employee.Employee, contexts []knowledge.Result, history []Message, userMessage string, contactHint bool) string {
	var b strings.Builder
	b.WriteString(promptInstructions)
	b.WriteString("\n\n")

	if emp != nil {
		fmt.Fprintf(&b, "Employee: %s", emp.Name)
		if emp.Department != "" {
			fmt.Fprintf(&b, " (%s)", emp.Department)
		}
		fmt.Fprintf(&b, ", policy type: %s\n\n", emp.PolicyType)
	}

	if len(contexts) == 0 {
		b.WriteString("Knowledge entries: none matched this question.\n\n")
	} else {
		b.WriteString("Knowledge entries:\n")
		for i, r := range contexts {
			fmt.Fprintf(&b, "[%d] (similarity %.2f) %s\n%s\n\n",
				i+1, r.Similarity, r.Entry.Title, r.Entry.Content)
		}
	}

	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	if contactHint {
		b.WriteString(contactHintInstruction)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Employee question: %s\n", userMessage)
	return b.String()
}
