// Package extraction turns a clinical conversation transcript into
// structured form data.
package extraction

import (
	"regexp"
	"strings"
)

// Vitals holds patient vital signs. Nil fields were not mentioned.
type Vitals struct {
	BloodPressure   *string  `json:"blood_pressure"`
	Pulse           *int     `json:"pulse"`
	Temperature     *float64 `json:"temperature"`
	RespiratoryRate *int     `json:"respiratory_rate"`
	SpO2            *int     `json:"spo2"`
	Rhythm          *string  `json:"rhythm"`
}

// FormData is the medical form filled from a transcript
type FormData struct {
	PhysicalExamination  *string  `json:"physical_examination"`
	OtherDetails         *string  `json:"other_details"`
	Symptoms             []string `json:"symptoms"`
	Action               *string  `json:"action"`       // Follow-up, Referral, Admit, Discharge, Observation
	ReviewAfter          *string  `json:"review_after"` // 1 week .. 6 months
	DischargeRecommended *bool    `json:"discharge_recommended"`
	Vitals               *Vitals  `json:"vitals"`
}

// IsEmpty reports whether nothing was extracted
func (f *FormData) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.PhysicalExamination == nil &&
		f.OtherDetails == nil &&
		len(f.Symptoms) == 0 &&
		f.Action == nil &&
		f.ReviewAfter == nil &&
		f.DischargeRecommended == nil &&
		f.Vitals == nil
}

var (
	overWord   = regexp.MustCompile(`(?i)\s*\bover\b\s*`)
	overHebrew = regexp.MustCompile(`\s*על\s*`)
	overArabic = regexp.MustCompile(`\s*على\s*`)
	slash      = regexp.MustCompile(`\s*/\s*`)
)

// NormalizeBloodPressure rewrites spoken readings such as "145 over 95"
// (also Hebrew and Arabic "over") as "145/95"
func NormalizeBloodPressure(value string) string {
	normalized := overWord.ReplaceAllString(value, "/")
	normalized = overHebrew.ReplaceAllString(normalized, "/")
	normalized = overArabic.ReplaceAllString(normalized, "/")
	normalized = slash.ReplaceAllString(normalized, "/")
	return strings.TrimSpace(normalized)
}

// normalize applies post-processing to a decoded form
func (f *FormData) normalize() {
	if f.Vitals != nil && f.Vitals.BloodPressure != nil && *f.Vitals.BloodPressure != "" {
		bp := NormalizeBloodPressure(*f.Vitals.BloodPressure)
		f.Vitals.BloodPressure = &bp
	}
}
