package frame

// SkipJSONValue reports how many leading bytes of b make up exactly one
// complete top-level JSON value (object, array, string, number, boolean, or
// null), so that a byte stream carrying several concatenated JSON values
// without a length prefix or newline separator can be split value by value.
// No other package in this module calls it.
//
// It returns (n, true) when a complete value occupies b[:n]. It returns
// (0, false) when b does not begin with a complete value, including when b
// is empty or truncated mid-value. Leading whitespace before the value is
// skipped and counted in n.
func SkipJSONValue(b []byte) (n int, complete bool) {
	i := skipWhitespace(b, 0)
	if i >= len(b) {
		return 0, false
	}

	end, ok := skipValue(b, i)
	if !ok {
		return 0, false
	}
	return end, true
}

func skipWhitespace(b []byte, i int) int {
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			return i
		}
	}
	return i
}

// skipValue returns the index just past one JSON value starting at i, or
// (0, false) if b[i:] does not contain a complete value.
func skipValue(b []byte, i int) (int, bool) {
	if i >= len(b) {
		return 0, false
	}
	switch c := b[i]; {
	case c == '{':
		return skipBracketed(b, i, '{', '}')
	case c == '[':
		return skipBracketed(b, i, '[', ']')
	case c == '"':
		return skipString(b, i)
	case c == 't':
		return skipLiteral(b, i, "true")
	case c == 'f':
		return skipLiteral(b, i, "false")
	case c == 'n':
		return skipLiteral(b, i, "null")
	case c == '-' || (c >= '0' && c <= '9'):
		return skipNumber(b, i)
	default:
		return 0, false
	}
}

func skipLiteral(b []byte, i int, lit string) (int, bool) {
	if i+len(lit) > len(b) {
		return 0, false
	}
	if string(b[i:i+len(lit)]) != lit {
		return 0, false
	}
	return i + len(lit), true
}

func skipNumber(b []byte, i int) (int, bool) {
	j := i
	if j < len(b) && b[j] == '-' {
		j++
	}
	start := j
	for j < len(b) && b[j] >= '0' && b[j] <= '9' {
		j++
	}
	if j == start {
		return 0, false
	}
	if j < len(b) && b[j] == '.' {
		j++
		fracStart := j
		for j < len(b) && b[j] >= '0' && b[j] <= '9' {
			j++
		}
		if j == fracStart {
			return 0, false
		}
	}
	if j < len(b) && (b[j] == 'e' || b[j] == 'E') {
		j++
		if j < len(b) && (b[j] == '+' || b[j] == '-') {
			j++
		}
		expStart := j
		for j < len(b) && b[j] >= '0' && b[j] <= '9' {
			j++
		}
		if j == expStart {
			return 0, false
		}
	}
	return j, true
}

// skipString returns the index just past a JSON string starting at b[i]=='"',
// honoring backslash escapes; it treats the string body as opaque otherwise.
func skipString(b []byte, i int) (int, bool) {
	j := i + 1
	for j < len(b) {
		switch b[j] {
		case '\\':
			j += 2
			continue
		case '"':
			return j + 1, true
		}
		j++
	}
	return 0, false
}

// skipBracketed walks a matched pair of open/close brackets, treating
// strings as opaque so an embedded "}" or "]" does not confuse nesting.
func skipBracketed(b []byte, i int, open, close byte) (int, bool) {
	depth := 0
	j := i
	for j < len(b) {
		c := b[j]
		switch {
		case c == '"':
			end, ok := skipString(b, j)
			if !ok {
				return 0, false
			}
			j = end
			continue
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return j + 1, true
			}
		}
		j++
	}
	return 0, false
}
