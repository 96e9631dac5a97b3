package llm

// extractObject finds the first balanced {...} span in a string,
// handling nested braces and skipping braces inside quoted strings.
// It returns "" when no balanced object exists.
func extractObject(s string) string {
	return extractSpan(s, '{', '}')
}

// extractArray finds the first balanced [...] span in a string.
func extractArray(s string) string {
	return extractSpan(s, '[', ']')
}

func extractSpan(s string, open, close rune) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
