package answer

import (
	"math"

	"github.com/verdantiq/facility-assessment/internal/schema"
)

// CompletionPercent returns round(100 * answered / total) over ALL schema
// questions, required and optional alike. Counting optional questions keeps
// the percentage continuous even though only required fields gate
// step-advance.
func CompletionPercent(merged Set, questions []*schema.Question) int {
	if len(questions) == 0 {
		return 0
	}
	answered := 0
	for _, q := range questions {
		v, ok := merged[q.ID]
		if ok && !v.IsEmpty() {
			answered++
		}
	}
	return int(math.Round(100 * float64(answered) / float64(len(questions))))
}
