package dispute

import (
	"verity/answer"
	"verity/apperr"
)

// CorrectedAnswer picks the answer committed when a dispute is upheld.
// Candidates are consulted in priority order: the deciding authority's own
// value, then the challenger's proposal, then the disputer's.
//
// For non-boolean types the first present candidate wins, and with none
// present the decision cannot be applied. For booleans the first candidate
// that differs from the original wins; failing that the original is negated.
func CorrectedAnswer(typ answer.Type, original answer.Answer, candidates ...*answer.Answer) (answer.Answer, error) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if err := c.Validate(typ); err != nil {
			return answer.Answer{}, err
		}
	}

	if typ == answer.TypeBoolean {
		for _, c := range candidates {
			if c != nil && !c.Equal(original) {
				return c.Clone(), nil
			}
		}
		return original.Negate()
	}

	for _, c := range candidates {
		if c != nil {
			return c.Clone(), nil
		}
	}
	return answer.Answer{}, apperr.ErrNoCorrectedAnswerProvided
}
