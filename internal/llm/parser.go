package llm

import "strings"

// ExtractSQL cleans a model completion down to the bare SQL statement.
// Models wrap SQL in markdown fences despite instructions not to; strip
// ```sql ... ``` (or bare ``` ... ```) and surrounding whitespace. The
// result is not validated here; the safety gate owns that.
func ExtractSQL(completion string) string {
	s := strings.TrimSpace(completion)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Language tag on the opening fence, e.g. ```sql
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			firstLine := strings.TrimSpace(s[:idx])
			if firstLine == "sql" || firstLine == "SQL" || firstLine == "" {
				s = s[idx+1:]
			}
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}

	return strings.TrimSpace(s)
}
