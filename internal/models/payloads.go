package models

// These structs define the JSON payloads exchanged with the books API.

// UploadURLRequest asks for a signed write URL for one file.
type UploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// UploadURLResponse carries the write URL and the object identifier the
// pipeline is later started with.
type UploadURLResponse struct {
	URL    string `json:"url"`
	GCSURI string `json:"gcs_uri"`
}

// StartProcessingRequest starts ingestion for uploaded objects.
type StartProcessingRequest struct {
	GCSURIs []string `json:"gcs_uris"`
}

// StartProcessingResponse returns the tracking identifier of the new job.
type StartProcessingResponse struct {
	Message string `json:"message,omitempty"`
	BookID  string `json:"bookId"`
}

// AssessmentImage is one base64-encoded slot image.
type AssessmentImage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// AssessConditionRequest submits slot images for condition grading.
type AssessConditionRequest struct {
	BookID   string                 `json:"bookId"`
	Images   []AssessmentImage      `json:"images"`
	Metadata map[string]interface{} `json:"metadata"`
}

// AssessConditionResponse is returned by assess-condition. The backend may
// answer 202 without an assessment; the result then arrives on the feed.
type AssessConditionResponse struct {
	Message             string              `json:"message,omitempty"`
	BookID              string              `json:"bookId,omitempty"`
	ConditionAssessment *AssessmentDocument `json:"condition_assessment,omitempty"`
}

// OverrideConditionRequest replaces the AI grade with a reviewer's grade.
type OverrideConditionRequest struct {
	BookID        string `json:"bookId"`
	OverrideGrade string `json:"overrideGrade"`
	Reason        string `json:"reason"`
	Timestamp     string `json:"timestamp"`
}

// OverrideConditionResponse echoes the stored override.
type OverrideConditionResponse struct {
	ConditionAssessment *AssessmentDocument `json:"condition_assessment"`
}
