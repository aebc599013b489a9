package answer

import (
	"fmt"

	"github.com/verdantiq/facility-assessment/internal/schema"
)

// ValidationError reports a single field failing validation. It never aborts
// the wizard flow; callers block only the affected write or step-advance.
type ValidationError struct {
	QuestionID string
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("question %s: %s", e.QuestionID, e.Message)
}

// ValidateValue checks a value against its question's declared type, pattern,
// and numeric bounds. Empty values are always valid; clearing an answer is a
// legitimate write; required-ness is enforced at step-advance, not here.
func ValidateValue(q *schema.Question, v Value) error {
	if v.IsEmpty() {
		return nil
	}

	switch q.Type {
	case schema.TypeText, schema.TypeTextarea, schema.TypeSelect, schema.TypeRadio:
		if v.Kind() != KindString {
			return typeMismatch(q, v)
		}
	case schema.TypeEmail:
		if v.Kind() != KindString {
			return typeMismatch(q, v)
		}
		if !q.MatchesPattern(v.Str()) {
			msg := q.PatternMessage
			if msg == "" {
				msg = "value does not match the required pattern"
			}
			return &ValidationError{QuestionID: q.ID, Message: msg}
		}
	case schema.TypeSlider:
		if v.Kind() != KindNumber {
			return typeMismatch(q, v)
		}
		if v.Num() < q.Min || v.Num() > q.Max {
			return &ValidationError{
				QuestionID: q.ID,
				Message:    fmt.Sprintf("value %v outside bounds %v..%v", v.Num(), q.Min, q.Max),
			}
		}
	case schema.TypeMultiSelect, schema.TypeFile:
		if v.Kind() != KindStringList {
			return typeMismatch(q, v)
		}
	case schema.TypeCheckbox:
		// Checkboxes with options behave like multiselects; a standalone
		// checkbox is a boolean.
		if len(q.Options) > 0 {
			if v.Kind() != KindStringList {
				return typeMismatch(q, v)
			}
		} else if v.Kind() != KindBool {
			return typeMismatch(q, v)
		}
	}
	return nil
}

func typeMismatch(q *schema.Question, v Value) error {
	return &ValidationError{
		QuestionID: q.ID,
		Message:    fmt.Sprintf("%s value not allowed for %s question", v.Kind(), q.Type),
	}
}
