package models

// BookDocument is the backend-authored status document at
// users/{uid}/books/{bookId}. The client only ever reads it.
type BookDocument struct {
	Status          string   `firestore:"status,omitempty" json:"status,omitempty"`
	Title           string   `firestore:"title,omitempty" json:"title,omitempty"`
	Authors         []string `firestore:"authors,omitempty" json:"authors,omitempty"`
	Error           string   `firestore:"error,omitempty" json:"error,omitempty"`
	ErrorMessage    string   `firestore:"error_message,omitempty" json:"error_message,omitempty"`
	ISBN            string   `firestore:"isbn,omitempty" json:"isbn,omitempty"`
	Publisher       string   `firestore:"publisher,omitempty" json:"publisher,omitempty"`
	PublicationYear string   `firestore:"publication_year,omitempty" json:"publication_year,omitempty"`
	ImageURLs       []string `firestore:"imageUrls,omitempty" json:"imageUrls,omitempty"`
}

// FailureReason returns the backend-supplied failure message, preferring
// `error` over `error_message`.
func (d BookDocument) FailureReason() string {
	if d.Error != "" {
		return d.Error
	}
	if d.ErrorMessage != "" {
		return d.ErrorMessage
	}
	return "unknown"
}

// AssessmentDocument is the condition-assessment document at
// users/{uid}/condition_assessments/{bookId}. The same shape is returned in
// the `condition_assessment` field of the assessment API responses.
type AssessmentDocument struct {
	Status          string                 `firestore:"status,omitempty" json:"status,omitempty"`
	Grade           string                 `firestore:"grade,omitempty" json:"grade,omitempty"`
	OverallScore    float64                `firestore:"overall_score,omitempty" json:"overall_score,omitempty"`
	Confidence      float64                `firestore:"confidence,omitempty" json:"confidence,omitempty"`
	PriceFactor     float64                `firestore:"price_factor,omitempty" json:"price_factor,omitempty"`
	ComponentScores map[string]float64     `firestore:"component_scores,omitempty" json:"component_scores,omitempty"`
	Details         map[string]interface{} `firestore:"details,omitempty" json:"details,omitempty"`
	Error           string                 `firestore:"error,omitempty" json:"error,omitempty"`
	ManualOverride  bool                   `firestore:"manual_override,omitempty" json:"manual_override,omitempty"`
	OverrideReason  string                 `firestore:"override_reason,omitempty" json:"override_reason,omitempty"`
}
