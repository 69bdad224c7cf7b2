package services

import (
	"fmt"
	"regexp"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderAlert performs naive moustache-style replacement for {{key}}
// placeholders in alert text. Unknown placeholders are left untouched so a
// producer typo is visible in the delivered notification instead of
// silently vanishing.
func RenderAlert(alert string, variables map[string]any) string {
	if alert == "" || len(variables) == 0 {
		return alert
	}

	return placeholderRegex.ReplaceAllStringFunc(alert, func(match string) string {
		submatch := placeholderRegex.FindStringSubmatch(match)
		if len(submatch) != 2 {
			return match
		}
		key := submatch[1]
		if value, ok := variables[key]; ok {
			return fmt.Sprint(value)
		}
		return match
	})
}
