package routine

import (
	"regexp"

	"github.com/neurospicy/routinekit/internal/models"
)

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// SubstituteVariables replaces every ${key} placeholder in text with the
// instance's parameter value for that key. Placeholders for parameters that
// are not set are left verbatim so the gap is visible instead of silently
// swallowed.
func SubstituteVariables(text string, inst models.RoutineInstance) string {
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		key := variablePattern.FindStringSubmatch(match)[1]
		if p, ok := inst.Parameter(key); ok {
			return p.DisplayString()
		}
		return match
	})
}
