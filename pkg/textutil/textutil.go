// chatguard/pkg/textutil/textutil.go

package textutil

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	legacyHexPattern  = regexp.MustCompile(`(?i)[&§]x(?:[&§][0-9a-f]){6}`)
	hashHexPattern    = regexp.MustCompile(`(?i)[&§]#[0-9a-f]{6}`)
	legacyCodePattern = regexp.MustCompile(`(?i)[&§][0-9a-fk-or]`)
	miniTagPattern    = regexp.MustCompile(`</?(?:[a-z_]+|#[0-9a-fA-F]{6})(?::[^<>]*)?>`)
	domainPattern     = regexp.MustCompile(`(?i)^(?:https?://)?(?:[a-z0-9-]+\.)+[a-z]{2,}(?:[/:]\S*)?$`)
)

// StripColors removes legacy '&'/'§' color codes, hex colors and mini-message
// style tags such as <red> or <hover:show_text:'...'>.
func StripColors(s string) string {
	s = legacyHexPattern.ReplaceAllString(s, "")
	s = hashHexPattern.ReplaceAllString(s, "")
	s = legacyCodePattern.ReplaceAllString(s, "")
	return miniTagPattern.ReplaceAllString(s, "")
}

// StripAccents folds diacritics away: "café" becomes "cafe".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Similarity returns a score in [0, 1] where 1 means equal, computed from the
// Levenshtein distance of the lowercased, color-stripped texts.
func Similarity(a, b string) float64 {
	a = strings.ToLower(StripColors(a))
	b = strings.ToLower(StripColors(b))
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// CapsPercentage is the share of uppercase letters among all letters of s.
func CapsPercentage(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// CapsInRow returns the longest run of consecutive uppercase letters in s,
// skipping words for which skip returns true.
func CapsInRow(s string, skip func(word string) bool) int {
	longest, run := 0, 0
	for _, word := range strings.Split(s, " ") {
		if skip != nil && skip(word) {
			run = 0
			continue
		}
		for _, r := range word {
			if unicode.IsUpper(r) {
				run++
				if run > longest {
					longest = run
				}
			} else {
				run = 0
			}
		}
	}
	return longest
}

// IsDomain reports whether word looks like a host name or URL.
func IsDomain(word string) bool {
	return domainPattern.MatchString(word)
}

// CapitalizeFirst uppercases the first letter of s.
func CapitalizeFirst(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			if unicode.IsUpper(r) {
				return s
			}
			return s[:i] + string(unicode.ToUpper(r)) + s[i+utf8.RuneLen(r):]
		}
		if !unicode.IsSpace(r) {
			return s
		}
	}
	return s
}

// InsertDot appends a period when s ends in a letter or digit.
func InsertDot(s string) string {
	trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	if last == utf8.RuneError || !(unicode.IsLetter(last) || unicode.IsDigit(last)) {
		return s
	}
	return trimmed + "."
}

// Render replaces every {key} in template whose key is in vars. Unknown
// placeholders are left intact for a later resolver.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// SplitVertically splits s on unescaped '|'. "\|" stays a literal bar and
// every part is trimmed. Empty parts are dropped.
func SplitVertically(s string) []string {
	var parts []string
	var current strings.Builder
	flush := func() {
		if part := strings.TrimSpace(current.String()); part != "" {
			parts = append(parts, part)
		}
		current.Reset()
	}
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == '|':
			current.WriteByte('|')
			i++
		case s[i] == '|':
			flush()
		default:
			current.WriteByte(s[i])
		}
	}
	flush()
	return parts
}

// StripQuotes removes one pair of matching surrounding quotes.
func StripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
