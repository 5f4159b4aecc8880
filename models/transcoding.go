package models

import "strings"

// Transcoding is a configured conversion rule: one or more source
// formats, one target format, and up to three chained command
// templates. Rules are created by the admin surface and consumed
// read-only by the resolver.
type Transcoding struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SourceFormats string `json:"sourceFormats"` // space-separated, e.g. "flac ape wav"
	TargetFormat  string `json:"targetFormat"`
	Step1         string `json:"step1"`
	Step2         string `json:"step2,omitempty"`
	Step3         string `json:"step3,omitempty"`
	DefaultActive bool   `json:"defaultActive"`
}

// Steps returns the non-empty command templates in order.
func (t Transcoding) Steps() []string {
	steps := make([]string, 0, 3)
	for _, s := range []string{t.Step1, t.Step2, t.Step3} {
		if strings.TrimSpace(s) != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

// LastStep returns the final non-empty command template, or "".
func (t Transcoding) LastStep() string {
	steps := t.Steps()
	if len(steps) == 0 {
		return ""
	}
	return steps[len(steps)-1]
}

// AcceptsSource reports whether the rule's source format set contains
// the given format, case-insensitively.
func (t Transcoding) AcceptsSource(format string) bool {
	for _, f := range strings.Fields(t.SourceFormats) {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}
