package setup

import (
	"math"

	"github.com/ethangolledge/vapebot/internal/models"
)

// reconcile recomputes the goal field that complements the method-matching
// one. The method-matching field is authoritative and never rewritten here.
func reconcile(rec *models.SetupRecord) {
	if rec.Method == nil || rec.Tokes == nil {
		return
	}
	switch *rec.Method {
	case models.MethodNumber:
		if rec.ReduceAmount != nil {
			rec.ReducePercent = percentOf(*rec.ReduceAmount, *rec.Tokes)
		}
	case models.MethodPercent:
		if rec.ReducePercent != nil {
			rec.ReduceAmount = amountOf(*rec.ReducePercent, *rec.Tokes)
		}
	}
}

// percentOf returns amount as a percentage of tokes rounded to 2 decimal
// places, or nil when tokes is zero.
func percentOf(amount, tokes int) *float64 {
	if tokes == 0 {
		return nil
	}
	p := round2(float64(amount) / float64(tokes) * 100)
	return &p
}

// amountOf returns percent of tokes rounded to a whole count, or nil when
// tokes is zero. The result is clamped to [0, tokes].
func amountOf(percent float64, tokes int) *int {
	if tokes == 0 {
		return nil
	}
	f := math.Round(percent / 100 * float64(tokes))
	var a int
	switch {
	case f <= 0:
		a = 0
	case f >= float64(tokes):
		a = tokes
	default:
		a = int(f)
	}
	return &a
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
