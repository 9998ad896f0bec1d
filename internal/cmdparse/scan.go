package cmdparse

import "fmt"

// rejectedOperatorTokens are the shell operators spec.md §4.4 step 2
// names as rejected when they appear outside quotes; inside single or
// double quotes they are literal text.
var rejectedOperatorTokens = []string{"&&", "||", ";", "&", "`", "$("}

// scanState tracks quote context while walking a raw command line.
type scanState struct {
	inSingle bool
	inDouble bool
}

func (s *scanState) update(r byte) {
	switch r {
	case '\'':
		if !s.inDouble {
			s.inSingle = !s.inSingle
		}
	case '"':
		if !s.inSingle {
			s.inDouble = !s.inDouble
		}
	}
}

func (s *scanState) quoted() bool { return s.inSingle || s.inDouble }

// detectRejectedOperator scans line for any top-level (unquoted)
// occurrence of a rejected operator and returns it as an error.
func detectRejectedOperator(line string) error {
	var st scanState
	for i := 0; i < len(line); i++ {
		c := line[i]
		if st.quoted() {
			st.update(c)
			continue
		}
		st.update(c)
		if st.quoted() {
			continue
		}
		for _, op := range rejectedOperatorTokens {
			if i+len(op) <= len(line) && line[i:i+len(op)] == op {
				return fmt.Errorf("cmdparse: rejected shell operator %q", op)
			}
		}
	}
	return nil
}

// splitTopLevel splits line on sep at unquoted top-level occurrences.
func splitTopLevel(line string, sep byte) []string {
	var parts []string
	var cur []byte
	var st scanState
	for i := 0; i < len(line); i++ {
		c := line[i]
		st.update(c)
		if !st.quoted() && c == sep {
			parts = append(parts, string(cur))
			cur = nil
			continue
		}
		cur = append(cur, c)
	}
	parts = append(parts, string(cur))
	return parts
}

// redirectOpAt identifies a redirection operator at position i
// in stage, returning its RedirectKind and operator width, or
// RedirectNone/0 if none starts there.
func redirectOpAt(stage string, i int) (RedirectKind, int) {
	if i+1 < len(stage) && stage[i] == '>' && stage[i+1] == '>' {
		return RedirectAppend, 2
	}
	if stage[i] == '>' {
		return RedirectOut, 1
	}
	if stage[i] == '<' {
		return RedirectIn, 1
	}
	return RedirectNone, 0
}

// splitRedirect finds the first unquoted top-level redirection
// operator in stage and returns the command text before it, the
// redirect (whose path is all of the trimmed text after the
// operator), and true if one was found.
func splitRedirect(stage string) (string, Redirect, bool) {
	var st scanState
	for i := 0; i < len(stage); i++ {
		c := stage[i]
		if st.quoted() {
			st.update(c)
			continue
		}
		kind, width := redirectOpAt(stage, i)
		if kind == RedirectNone {
			st.update(c)
			continue
		}
		target := trimSpace(stage[i+width:])
		cmdPart := stage[:i]
		return cmdPart, Redirect{Kind: kind, Path: target}, true
	}
	return stage, Redirect{}, false
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }
