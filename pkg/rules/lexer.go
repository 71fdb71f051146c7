// chatguard/pkg/rules/lexer.go

package rules

import (
	"bufio"
	"io"
	"strings"
	"unicode"
)

// Statement is one logical line of a rule file.
type Statement struct {
	Line  int
	Text  string
	Words []string
}

// Head returns the first n words, lowercased and joined by single spaces.
func (s Statement) Head(n int) string {
	if n > len(s.Words) {
		n = len(s.Words)
	}
	return strings.ToLower(strings.Join(s.Words[:n], " "))
}

// Rest returns the text following the first n words with its inner
// spacing intact.
func (s Statement) Rest(n int) string {
	text := s.Text
	for i := 0; i < n; i++ {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
		end := strings.IndexFunc(text, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		text = text[end:]
	}
	return strings.TrimSpace(text)
}

// Lex splits a rule file into statements, dropping comments and blank lines.
func Lex(r io.Reader) ([]Statement, error) {
	var statements []Statement

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimRight(scanner.Text(), "\r")
		if line == 1 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		statements = append(statements, Statement{
			Line:  line,
			Text:  text,
			Words: strings.Fields(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return statements, nil
}
