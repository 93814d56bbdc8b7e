package models

import "testing"

func TestParseBookStatus(t *testing.T) {
	tests := map[string]BookStatus{
		"pending_analysis": BookStatusPendingAnalysis,
		"ingesting":        BookStatusIngesting,
		"ingested":         BookStatusIngested,
		"analysis_failed":  BookStatusAnalysisFailed,
		"failed":           BookStatusFailed,
		"priced":           BookStatusUnrecognized,
		"":                 BookStatusUnrecognized,
	}
	for raw, want := range tests {
		if got := ParseBookStatus(raw); got != want {
			t.Errorf("ParseBookStatus(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestDecodeBookCoercesLooseFields(t *testing.T) {
	doc, err := DecodeBook(map[string]interface{}{
		"status":           "ingested",
		"title":            "X",
		"authors":          []interface{}{"Y"},
		"publication_year": int64(1954),
		"unknown_field":    true,
	})
	if err != nil {
		t.Fatalf("DecodeBook returned error: %v", err)
	}
	if doc.Title != "X" || len(doc.Authors) != 1 || doc.Authors[0] != "Y" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.PublicationYear != "1954" {
		t.Fatalf("PublicationYear = %q", doc.PublicationYear)
	}
}

func TestDecodeBookDistinguishesEmptyAuthors(t *testing.T) {
	withEmpty, err := DecodeBook(map[string]interface{}{"authors": []interface{}{}})
	if err != nil {
		t.Fatalf("DecodeBook returned error: %v", err)
	}
	if withEmpty.Authors == nil {
		t.Fatal("present authors key should decode to a non-nil slice")
	}

	missing, err := DecodeBook(map[string]interface{}{"status": "ingesting"})
	if err != nil {
		t.Fatalf("DecodeBook returned error: %v", err)
	}
	if missing.Authors != nil {
		t.Fatalf("absent authors key should stay nil, got %v", missing.Authors)
	}
}

func TestFailureReasonFallbacks(t *testing.T) {
	if got := (BookDocument{Error: "a", ErrorMessage: "b"}).FailureReason(); got != "a" {
		t.Fatalf("got %q", got)
	}
	if got := (BookDocument{ErrorMessage: "b"}).FailureReason(); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := (BookDocument{}).FailureReason(); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeAssessment(t *testing.T) {
	doc, err := DecodeAssessment(map[string]interface{}{
		"status":           "completed",
		"grade":            "Good",
		"overall_score":    int64(65),
		"confidence":       0.82,
		"component_scores": map[string]interface{}{"spine": int64(60), "cover": 70.5},
		"details":          map[string]interface{}{"notes": "light wear"},
	})
	if err != nil {
		t.Fatalf("DecodeAssessment returned error: %v", err)
	}
	if doc.Grade != "Good" || doc.OverallScore != 65 || doc.ComponentScores["spine"] != 60 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if ParseAssessmentStatus(doc.Status) != AssessmentStatusCompleted {
		t.Fatalf("status %q not parsed as completed", doc.Status)
	}
}

func TestPriceFactorForGrade(t *testing.T) {
	tests := map[string]float64{
		GradeFine:     1.0,
		GradeVeryFine: 0.85,
		GradeGood:     0.65,
		GradeFair:     0.45,
		GradePoor:     0.25,
		"Mint":        0.7,
	}
	for grade, want := range tests {
		if got := PriceFactorForGrade(grade); got != want {
			t.Errorf("PriceFactorForGrade(%q) = %v, want %v", grade, got, want)
		}
	}
	if IsKnownGrade("Mint") || !IsKnownGrade(GradeFair) {
		t.Fatal("IsKnownGrade mismatch")
	}
}
