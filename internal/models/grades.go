package models

// Condition grades used by the assessor, best first.
const (
	GradeFine     = "Fine"
	GradeVeryFine = "Very Fine"
	GradeGood     = "Good"
	GradeFair     = "Fair"
	GradePoor     = "Poor"
)

// Grades lists the known condition grades, best first.
var Grades = []string{GradeFine, GradeVeryFine, GradeGood, GradeFair, GradePoor}

const defaultPriceFactor = 0.7

var gradePriceFactors = map[string]float64{
	GradeFine:     1.0,
	GradeVeryFine: 0.85,
	GradeGood:     0.65,
	GradeFair:     0.45,
	GradePoor:     0.25,
}

// IsKnownGrade reports whether grade is one of Grades.
func IsKnownGrade(grade string) bool {
	_, ok := gradePriceFactors[grade]
	return ok
}

// PriceFactorForGrade returns the price multiplier the backend applies for a
// manually chosen grade. Unknown grades get 0.7.
func PriceFactorForGrade(grade string) float64 {
	if factor, ok := gradePriceFactors[grade]; ok {
		return factor
	}
	return defaultPriceFactor
}
