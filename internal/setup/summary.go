package setup

import (
	"math"
	"strconv"
	"strings"

	"github.com/ethangolledge/vapebot/internal/models"
)

const notSet = "Not set"

// FormatSummary renders every field of rec with units, one per line.
// Missing fields render as "Not set".
func FormatSummary(rec models.SetupRecord) string {
	lines := []string{
		"Tokes: " + formatCount(rec.Tokes, " puffs"),
		"Strength: " + formatCount(rec.Strength, "mg"),
		"Method: " + formatMethod(rec.Method),
		"Reduce Amount: " + formatCount(rec.ReduceAmount, " puffs"),
		"Reduce Percent: " + formatPercent(rec.ReducePercent),
	}
	return strings.Join(lines, "\n")
}

func formatCount(v *int, unit string) string {
	if v == nil {
		return notSet
	}
	return strconv.Itoa(*v) + unit
}

func formatMethod(m *models.Method) string {
	if m == nil {
		return notSet
	}
	return m.Label()
}

// formatPercent keeps one decimal place for whole values ("25.0%") and
// otherwise prints the shortest exact form ("33.33%").
func formatPercent(p *float64) string {
	if p == nil {
		return notSet
	}
	if *p == math.Trunc(*p) {
		return strconv.FormatFloat(*p, 'f', 1, 64) + "%"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64) + "%"
}
