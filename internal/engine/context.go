package engine

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

const (
	ctxRecommendedJobs = "recommended_jobs"
	ctxSelectedJob     = "selected_job"
	ctxAvailableSlots  = "available_slots"
	ctxBookedSlot      = "booked_slot"
)

// flowContext is the typed view of ChatState.Context.
type flowContext struct {
	RecommendedJobs []string `mapstructure:"recommended_jobs"`
	SelectedJob     string   `mapstructure:"selected_job"`
	AvailableSlots  []int    `mapstructure:"available_slots"`
	BookedSlot      string   `mapstructure:"booked_slot"`
}

// readContext decodes the stored context. Values that went through JSON come
// back as []any and float64, which decode fine; anything else is malformed.
func readContext(raw map[string]any) (flowContext, error) {
	var fc flowContext
	if len(raw) == 0 {
		return fc, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &fc})
	if err != nil {
		return fc, err
	}
	if err := dec.Decode(raw); err != nil {
		return fc, fmt.Errorf("malformed chat context: %w", err)
	}
	return fc, nil
}

// writeContext stores fc into raw, dropping empty values.
func writeContext(raw map[string]any, fc flowContext) {
	set := func(key string, value any, empty bool) {
		if empty {
			delete(raw, key)
			return
		}
		raw[key] = value
	}
	set(ctxRecommendedJobs, fc.RecommendedJobs, len(fc.RecommendedJobs) == 0)
	set(ctxSelectedJob, fc.SelectedJob, fc.SelectedJob == "")
	set(ctxAvailableSlots, fc.AvailableSlots, len(fc.AvailableSlots) == 0)
	set(ctxBookedSlot, fc.BookedSlot, fc.BookedSlot == "")
}
