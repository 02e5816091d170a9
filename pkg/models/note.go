package models

// Severity grades a calibration note.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity defaults to SeverityWarning for empty or unknown input.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo:
		return SeverityInfo
	case SeverityError:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// CalibrationNote is advisory text attached to a row. It never changes cell values.
type CalibrationNote struct {
	Note     string   `json:"note"`
	Severity Severity `json:"severity"`
}
