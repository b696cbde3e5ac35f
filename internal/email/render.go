package email

import (
	"html"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}\s]+)\}`)

// Render substitutes {key} placeholders in the template's subject and body.
//
// Supplied keys are replaced by their value. Keys the template declares but the
// caller omitted become "". Anything else in braces is left as written. For HTML
// templates the values are escaped in the body only.
func Render(tmpl *Template, vars map[string]string) (subject, body string) {
	declared := make(map[string]struct{}, len(tmpl.Variables))
	for _, v := range tmpl.Variables {
		declared[v] = struct{}{}
	}

	subject = substitute(tmpl.Subject, vars, declared, false)
	body = substitute(tmpl.Body, vars, declared, tmpl.HTML)
	return subject, body
}

func substitute(pattern string, vars map[string]string, declared map[string]struct{}, escape bool) string {
	return placeholderPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		key := match[1 : len(match)-1]
		if val, ok := vars[key]; ok {
			if escape {
				return html.EscapeString(val)
			}
			return val
		}
		if _, ok := declared[key]; ok {
			return ""
		}
		return match
	})
}

// Placeholders returns the distinct placeholder names used in s, in order of appearance.
func Placeholders(s string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}
