package cmdparse

import "fmt"

// tokenize performs a quote-aware whitespace split of stage into argv,
// stripping the quote characters themselves (spec.md §4.4 step 4).
func tokenize(stage string) ([]string, error) {
	var tokens []string
	var cur []byte
	var st scanState
	haveToken := false

	flush := func() {
		if haveToken {
			tokens = append(tokens, string(cur))
			cur = nil
			haveToken = false
		}
	}

	for i := 0; i < len(stage); i++ {
		c := stage[i]
		wasQuoted := st.quoted()
		st.update(c)
		nowQuoted := st.quoted()
		if (c == '\'' || c == '"') && wasQuoted != nowQuoted {
			haveToken = true
			continue
		}
		if !nowQuoted && isSpace(c) {
			flush()
			continue
		}
		cur = append(cur, c)
		haveToken = true
	}
	if st.quoted() {
		return nil, fmt.Errorf("cmdparse: unterminated quote in %q", stage)
	}
	flush()
	return tokens, nil
}
