package conversation

import (
	"encoding/json"
	"strings"
)

// legacyEscalationMarker is the old free-text escalation signal. The
// structured contract below replaced it after the model repeatedly
// paraphrased the exact phrase, but replies from older prompt versions may
// still carry it.
const legacyEscalationMarker = "[ESCALATE_TO_HR]"

// reply is the structured output contract the prompt asks the model for.
// Pointer fields distinguish "field absent" (not our contract, ignore the
// object) from "field present but zero" (an empty answer still carries a
// valid escalation decision).
type reply struct {
	Answer          *string `json:"answer"`
	NeedsEscalation *bool   `json:"needs_escalation"`
}

// parseReply extracts the answer text and the escalation decision from raw
// model output.
//
// Models wrap JSON in prose and code fences often enough that strict
// unmarshaling is useless; instead the first '{' .. last '}' span is tried
// as JSON, and on failure the whole text is treated as the answer with the
// legacy marker as the only escalation signal. A JSON object carrying
// neither contract field is treated as incidental braces in prose.
func parseReply(raw string) (answer string, escalate bool) {
	text := strings.TrimSpace(raw)

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			var r reply
			if err := json.Unmarshal([]byte(text[start:end+1]), &r); err == nil && (r.Answer != nil || r.NeedsEscalation != nil) {
				if r.Answer != nil {
					answer = strings.TrimSpace(*r.Answer)
				}
				if r.NeedsEscalation != nil {
					escalate = *r.NeedsEscalation
				}
				return answer, escalate
			}
		}
	}

	if strings.Contains(text, legacyEscalationMarker) {
		answer = strings.TrimSpace(strings.ReplaceAll(text, legacyEscalationMarker, ""))
		return answer, true
	}
	return text, false
}
