// Package macro resolves the {{char}} and {{user}} placeholders used by cards,
// instruct formats, and chat text.
package macro

import (
	"regexp"

	"promptline/pkg/types"
)

var (
	charRe = regexp.MustCompile(`(?i)\{\{char\}\}`)
	userRe = regexp.MustCompile(`(?i)\{\{user\}\}`)
)

// Replace substitutes the placeholders in text. Matching is case-insensitive.
func Replace(text, charName, userName string) string {
	if text == "" {
		return text
	}
	text = charRe.ReplaceAllLiteralString(text, charName)
	return userRe.ReplaceAllLiteralString(text, userName)
}

// Instruct returns a copy of f with every text field resolved.
func Instruct(f types.InstructFormat, charName, userName string) types.InstructFormat {
	r := func(s string) string { return Replace(s, charName, userName) }
	f.SystemPrompt = r(f.SystemPrompt)
	f.SystemPrefix = r(f.SystemPrefix)
	f.SystemSuffix = r(f.SystemSuffix)
	f.InputPrefix = r(f.InputPrefix)
	f.InputSuffix = r(f.InputSuffix)
	f.OutputPrefix = r(f.OutputPrefix)
	f.LastOutputPrefix = r(f.LastOutputPrefix)
	f.OutputSuffix = r(f.OutputSuffix)
	f.StopSequence = r(f.StopSequence)
	return f
}
