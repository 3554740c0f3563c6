package notify

// MatchPattern reports whether channel matches a Redis glob pattern the way
// PSUBSCRIBE does: '*' matches any run of bytes, '?' a single byte, '[...]' a
// set (with '^' negation and 'a-z' ranges) and '\' escapes the next byte. An
// unterminated set is closed by the end of the pattern. Every pattern is
// valid.
func MatchPattern(pattern, channel string) bool {
	p, s := pattern, channel

	for len(p) > 0 && len(s) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 1 && p[1] == '*' {
				p = p[1:]
			}
			if len(p) == 1 {
				return true
			}
			for len(s) > 0 {
				if MatchPattern(p[1:], s) {
					return true
				}
				s = s[1:]
			}
			return false
		case '?':
			s = s[1:]
		case '[':
			var ok bool
			ok, p = matchSet(p[1:], s[0])
			if !ok {
				return false
			}
			s = s[1:]
		case '\\':
			if len(p) >= 2 {
				p = p[1:]
			}
			if p[0] != s[0] {
				return false
			}
			s = s[1:]
		default:
			if p[0] != s[0] {
				return false
			}
			s = s[1:]
		}

		if len(p) > 0 {
			p = p[1:]
		}
		if len(s) == 0 {
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			break
		}
	}
	return len(p) == 0 && len(s) == 0
}

// matchSet matches c against the set body following '['. It returns the
// pattern positioned on the closing ']', or empty when the set runs to the end.
func matchSet(p string, c byte) (bool, string) {
	negate := len(p) > 0 && p[0] == '^'
	if negate {
		p = p[1:]
	}

	matched := false
	for len(p) > 0 && p[0] != ']' {
		switch {
		case p[0] == '\\' && len(p) >= 2:
			p = p[1:]
			if p[0] == c {
				matched = true
			}
		case len(p) >= 3 && p[1] == '-':
			lo, hi := p[0], p[2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			p = p[2:]
		default:
			if p[0] == c {
				matched = true
			}
		}
		p = p[1:]
	}

	if negate {
		matched = !matched
	}
	return matched, p
}
