package models

import "strings"

// BookStatus is the parsed form of BookDocument.Status. Strings the client
// does not know map to BookStatusUnrecognized so new backend states cause no
// transition.
type BookStatus int

const (
	BookStatusUnrecognized BookStatus = iota
	BookStatusPendingAnalysis
	BookStatusIngesting
	BookStatusIngested
	BookStatusAnalysisFailed
	BookStatusFailed
)

var bookStatusNames = map[string]BookStatus{
	"pending_analysis": BookStatusPendingAnalysis,
	"ingesting":        BookStatusIngesting,
	"ingested":         BookStatusIngested,
	"analysis_failed":  BookStatusAnalysisFailed,
	"failed":           BookStatusFailed,
}

// ParseBookStatus maps a raw status string to a BookStatus.
func ParseBookStatus(raw string) BookStatus {
	if status, ok := bookStatusNames[strings.TrimSpace(raw)]; ok {
		return status
	}
	return BookStatusUnrecognized
}

// AssessmentStatus is the parsed form of AssessmentDocument.Status.
type AssessmentStatus int

const (
	AssessmentStatusUnrecognized AssessmentStatus = iota
	AssessmentStatusPending
	AssessmentStatusCompleted
	AssessmentStatusFailed
)

// ParseAssessmentStatus maps a raw status string to an AssessmentStatus.
func ParseAssessmentStatus(raw string) AssessmentStatus {
	switch strings.TrimSpace(raw) {
	case "pending":
		return AssessmentStatusPending
	case "completed":
		return AssessmentStatusCompleted
	case "failed":
		return AssessmentStatusFailed
	default:
		return AssessmentStatusUnrecognized
	}
}
