package model

// PIIMatch is a single detection produced by the PII detector. It only lives
// for the duration of one detection call and is never persisted.
type PIIMatch struct {
	Pattern string
	Label   string
	Text    string
	Start   int
	End     int
}

// Len returns the byte length of the matched span
func (m PIIMatch) Len() int {
	return m.End - m.Start
}

// ValidationResult is the decision of the fact validator for one candidate
type ValidationResult struct {
	Clean   bool
	Reasons []string
	Fact    Fact
}
