package pattern

import (
	"regexp"
	"strings"
)

// compileGlob translates a shell-style glob (`*`, `?`, `[...]`, `**`)
// into an anchored regular expression. `**` matches across path
// separators (including none); a single `*` does not cross a `/`.
func compileGlob(pat string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pat)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
				// Swallow an immediately following separator so `**/`
				// can also match zero directories.
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			j := i + 1
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j < len(runes) {
				b.WriteString(regexp.QuoteMeta(""))
				b.WriteString("[")
				b.WriteString(string(runes[i+1 : j]))
				b.WriteString("]")
				i = j
			} else {
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
