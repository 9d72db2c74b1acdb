package dedup

import (
	"sort"
	"strings"
	"unicode"
)

// Surnames extracts one lowercase surname per author name, in sorted order.
// "Jane Smith" and "Smith, Jane" both yield "smith"; bare initials are
// skipped.
func Surnames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if s := surname(name); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func surname(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// "Smith, Jane" style puts the surname before the comma.
	if i := strings.Index(name, ","); i >= 0 {
		name = name[:i]
	} else if fields := strings.Fields(name); len(fields) > 0 {
		// "Jane Smith" puts the surname last, "Chen W." puts it first; take
		// the last field that is more than an initial.
		name = ""
		for i := len(fields) - 1; i >= 0; i-- {
			if len([]rune(stripNonLetters(fields[i]))) >= 2 {
				name = fields[i]
				break
			}
		}
	}

	s := stripNonLetters(strings.ToLower(name))
	if len([]rune(s)) < 2 {
		return ""
	}
	return s
}

func stripNonLetters(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
