package messaging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethangolledge/vapebot/internal/models"
)

const choiceHint = "Reply with the number of your choice."

// renderPrompt flattens a prompt into plain text. Transports without inline
// keyboards show the choices as a numbered list.
func renderPrompt(p models.Prompt) string {
	if len(p.Keyboard) == 0 {
		return p.Text
	}
	var b strings.Builder
	b.WriteString(p.Text)
	for i, c := range p.Keyboard {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
	}
	b.WriteString("\n")
	b.WriteString(choiceHint)
	return b.String()
}

// resolveChoice maps a typed reply onto a keyboard choice by number, label or payload.
func resolveChoice(keyboard []models.Choice, text string) (string, bool) {
	text = strings.TrimSuffix(strings.TrimSpace(text), ".")
	if text == "" {
		return "", false
	}
	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(keyboard) {
			return keyboard[n-1].Payload, true
		}
		return "", false
	}
	for _, c := range keyboard {
		if strings.EqualFold(text, c.Label) || strings.EqualFold(text, c.Payload) {
			return c.Payload, true
		}
	}
	return "", false
}
