package setup

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethangolledge/vapebot/internal/models"
)

var (
	// Optional sign, then digits with optional thousands separators.
	integerPattern = regexp.MustCompile(`(-?)(\d{1,3}(?:,\d{3})+|\d+)`)
	// Same as integerPattern with an optional fractional part.
	decimalPattern = regexp.MustCompile(`(-?)(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?|\.\d+)`)
)

// parseCount extracts the first non-negative integer from free text such as
// "about 20 a day" or "6mg".
func parseCount(field models.Field, raw string) (int, error) {
	m := integerPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, invalid(field, raw, "no whole number found")
	}
	if m[1] == "-" {
		return 0, invalid(field, raw, "must not be negative")
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[2], ",", ""))
	if err != nil {
		return 0, invalid(field, raw, "number is too large")
	}
	return n, nil
}

// parsePercent extracts the first decimal from text such as "25%" or
// "12.5 %". The result must lie between 0 and 100.
func parsePercent(field models.Field, raw string) (float64, error) {
	m := decimalPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, invalid(field, raw, "no percentage found")
	}
	if m[1] == "-" {
		return 0, invalid(field, raw, "must not be negative")
	}
	p, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil || math.IsInf(p, 0) {
		return 0, invalid(field, raw, "percentage is not a valid number")
	}
	if p > 100 {
		return 0, invalid(field, raw, "must be between 0 and 100")
	}
	return p, nil
}

// parseMethod converts a button payload into a Method.
func parseMethod(raw string) (models.Method, error) {
	m := models.Method(strings.ToLower(strings.TrimSpace(raw)))
	if !m.IsValid() {
		return "", invalid(models.FieldMethod, raw, `expected "number" or "percent"`)
	}
	return m, nil
}
