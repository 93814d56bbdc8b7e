package models

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeBook converts a raw Firestore document map into a BookDocument.
// Loosely typed fields (a numeric publication year, a single author string)
// are coerced. A present `authors` key always yields a non-nil slice, so
// callers can tell "no authors yet" from "empty author list".
func DecodeBook(raw map[string]interface{}) (BookDocument, error) {
	var doc BookDocument
	if err := decode(raw, &doc); err != nil {
		return BookDocument{}, fmt.Errorf("decode book document: %w", err)
	}
	if raw["authors"] != nil && doc.Authors == nil {
		doc.Authors = []string{}
	}
	return doc, nil
}

// DecodeAssessment converts a raw Firestore document map into an
// AssessmentDocument.
func DecodeAssessment(raw map[string]interface{}) (AssessmentDocument, error) {
	var doc AssessmentDocument
	if err := decode(raw, &doc); err != nil {
		return AssessmentDocument{}, fmt.Errorf("decode assessment document: %w", err)
	}
	return doc, nil
}

func decode(raw map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "firestore",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
