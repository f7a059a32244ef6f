package transcript

import (
	"strings"

	"grimoire/internal/domain"
)

const previewLimit = 70

// Summary is one row of the recorded-communications overview.
type Summary struct {
	Persona     domain.Persona `json:"persona"`
	LastMessage string         `json:"lastMessage"`
	Messages    int            `json:"messages"`
}

// Summarize builds overview rows in persona order. Personas without history
// and histories for personas that are not in the list are skipped.
func Summarize(all map[string]domain.Transcript, personas []domain.Persona) []Summary {
	var out []Summary
	for _, p := range personas {
		t := all[p.Name]
		last, ok := t.Last()
		if !ok {
			continue
		}
		out = append(out, Summary{
			Persona:     p,
			LastMessage: preview(last.Text),
			Messages:    len(t),
		})
	}
	return out
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLimit {
		return text
	}
	return string(r[:previewLimit]) + "..."
}

// FormatConsultation renders a transcript as plain text suitable for copying.
func FormatConsultation(personaName string, t domain.Transcript) string {
	if len(t) == 0 {
		return ""
	}
	lines := make([]string, 0, len(t))
	for _, m := range t {
		prefix := personaName
		if m.Role == domain.RoleUser {
			prefix = "You"
		}
		lines = append(lines, prefix+": "+m.Text)
	}
	return "Consultation with " + personaName + "\n\n" + strings.Join(lines, "\n\n")
}
