package setup

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethangolledge/vapebot/internal/models"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"20", 20, false},
		{"about 20 a day", 20, false},
		{"6mg", 6, false},
		{"1,200 puffs", 1200, false},
		{"  0 ", 0, false},
		{"20-25", 20, false},
		{"-5", 0, true},
		{"lots", 0, true},
		{"", 0, true},
		{"99999999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseCount(models.FieldTokes, tt.raw)
			if tt.wantErr {
				assert.True(t, IsValidation(err), "expected ValidationError, got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"25", 25, false},
		{"25%", 25, false},
		{"12.5 %", 12.5, false},
		{".5", 0.5, false},
		{"0%", 0, false},
		{"100%", 100, false},
		{"150%", 0, true},
		{"1,000.5%", 0, true},
		{"99999999999999999999999%", 0, true},
		{"about 10 percent", 10, false},
		{"-10%", 0, true},
		{"half", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parsePercent(models.FieldGoal, tt.raw)
			if tt.wantErr {
				assert.True(t, IsValidation(err), "expected ValidationError, got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParsePercentRangeReason(t *testing.T) {
	_, err := parsePercent(models.FieldGoal, "150%")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "must be between 0 and 100", ve.Reason)
}

func TestAmountOfStaysInRange(t *testing.T) {
	assert.Equal(t, 20, *amountOf(100, 20))
	assert.Equal(t, 0, *amountOf(0, 20))
	assert.Equal(t, 5, *amountOf(25, 20))
	assert.Equal(t, math.MaxInt, *amountOf(100, math.MaxInt))
	assert.Equal(t, 20, *amountOf(1e30, 20))
	assert.Nil(t, amountOf(50, 0))
}

func TestParseMethod(t *testing.T) {
	m, err := parseMethod("number")
	assert.NoError(t, err)
	assert.Equal(t, models.MethodNumber, m)

	m, err = parseMethod(" Percent ")
	assert.NoError(t, err)
	assert.Equal(t, models.MethodPercent, m)

	_, err = parseMethod("both")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, models.FieldMethod, ve.Field)
	assert.Equal(t, "both", ve.Raw)
}

func TestFormatPercent(t *testing.T) {
	v := 25.0
	assert.Equal(t, "25.0%", formatPercent(&v))
	v = 33.33
	assert.Equal(t, "33.33%", formatPercent(&v))
	assert.Equal(t, "Not set", formatPercent(nil))
}
