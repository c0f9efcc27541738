package sqlcheck

import (
	"strings"
	"unicode"

	"github.com/querypilot/querypilot/internal/query"
)

type scan struct {
	words      []string
	statements int
}

// scanSQL walks sqlText outside of string literals, quoted identifiers and
// comments, collecting lower-cased bare words and counting non-empty
// statements separated by semicolons. MySQL literals honour backslash
// escapes; PostgreSQL and DuckDB dollar-quoted bodies are skipped whole.
func scanSQL(sqlText string, dialect query.Dialect) scan {
	var (
		result  scan
		word    strings.Builder
		pending bool
	)
	flushWord := func() {
		if word.Len() > 0 {
			result.words = append(result.words, strings.ToLower(word.String()))
			word.Reset()
		}
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			flushWord()
			pending = true
			i = skipQuoted(runes, i, r, dialect == query.DialectMySQL && r != '`')
		case r == '$' && word.Len() == 0 && dollarQuoting(dialect):
			pending = true
			if tag, ok := dollarTag(runes, i); ok {
				i = skipDollarQuoted(runes, i, tag)
			}
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flushWord()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flushWord()
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
		case r == ';':
			flushWord()
			if pending {
				result.statements++
				pending = false
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			word.WriteRune(r)
			pending = true
		default:
			flushWord()
			if !unicode.IsSpace(r) {
				pending = true
			}
		}
	}
	flushWord()
	if pending {
		result.statements++
	}
	return result
}

// skipQuoted returns the index of the closing quote matching runes[start].
// Doubled quotes inside the literal are treated as escapes, and so are
// backslashes when backslashEscapes is set.
func skipQuoted(runes []rune, start int, quote rune, backslashEscapes bool) int {
	for i := start + 1; i < len(runes); i++ {
		if backslashEscapes && runes[i] == '\\' {
			i++
			continue
		}
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(runes)
}

func dollarQuoting(dialect query.Dialect) bool {
	return dialect == query.DialectPostgres || dialect == query.DialectDuckDB
}

// dollarTag reads the opening delimiter of a dollar-quoted string at
// runes[start], e.g. "$$" or "$body$". Positional parameters such as $1 are
// not delimiters.
func dollarTag(runes []rune, start int) (string, bool) {
	for i := start + 1; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '$':
			return string(runes[start : i+1]), true
		case r == '_' || unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > start+1:
		default:
			return "", false
		}
	}
	return "", false
}

// skipDollarQuoted returns the index of the last rune of the closing tag.
func skipDollarQuoted(runes []rune, start int, tag string) int {
	closing := []rune(tag)
	for i := start + len(closing); i+len(closing) <= len(runes); i++ {
		if string(runes[i:i+len(closing)]) == tag {
			return i + len(closing) - 1
		}
	}
	return len(runes)
}
