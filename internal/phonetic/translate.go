// Package phonetic turns Japanese number readings into digit strings.
//
// Challenge images on the panel spell digits out in kana ("さんろく" for 36),
// so OCR and vision output has to be translated before it can be checked
// against the six-digit acceptance rule.
package phonetic

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// DefaultTable maps every accepted spelling to its digit.
var DefaultTable = map[string]byte{
	"ぜろ": '0', "れい": '0', "れー": '0', "零": '0', "〇": '0',
	"いち": '1', "ひと": '1', "一": '1',
	"に": '2', "ふた": '2', "二": '2',
	"さん": '3', "みっ": '3', "三": '3',
	"よん": '4', "よ": '4', "し": '4', "四": '4',
	"ご": '5', "いつ": '5', "五": '5',
	"ろく": '6', "むっ": '6', "六": '6',
	"なな": '7', "しち": '7', "七": '7',
	"はち": '8', "八": '8',
	"きゅう": '9', "きゅー": '9', "く": '9', "九": '9',
}

// Translator performs longest-match-first token translation.
type Translator struct {
	// tokens sorted by decreasing rune length, ties broken lexically so the
	// scan is deterministic.
	tokens []string
	table  map[string]byte
}

// NewTranslator builds a Translator over a custom table.
func NewTranslator(table map[string]byte) *Translator {
	t := &Translator{table: make(map[string]byte, len(table))}
	for k, v := range table {
		t.table[k] = v
		t.tokens = append(t.tokens, k)
	}
	sort.Slice(t.tokens, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(t.tokens[i]), utf8.RuneCountInString(t.tokens[j])
		if li != lj {
			return li > lj
		}
		return t.tokens[i] < t.tokens[j]
	})
	return t
}

var defaultTranslator = NewTranslator(DefaultTable)

// Translate converts text using DefaultTable.
func Translate(text string) string {
	return defaultTranslator.Translate(text)
}

// Translate scans text left to right. ASCII digits are copied, the longest
// table token starting at the current position is replaced by its digit, and
// anything else is dropped. Output contains only characters 0-9.
func (t *Translator) Translate(text string) string {
	s := Fold(text)
	var out strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c >= '0' && c <= '9' {
			out.WriteByte(c)
			i++
			continue
		}
		matched := false
		for _, tok := range t.tokens {
			if strings.HasPrefix(s[i:], tok) {
				out.WriteByte(t.table[tok])
				i += len(tok)
				matched = true
				break
			}
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
		}
	}
	return out.String()
}

// Fold normalizes width and script: full-width ASCII becomes ASCII and
// katakana, half-width included, becomes hiragana. Half-width voiced marks
// are composed onto the preceding kana. The long-vowel mark is kept.
func Fold(text string) string {
	narrowed := strings.Map(func(r rune) rune {
		// spacing voiced marks become their combining forms so NFC can compose them
		switch r {
		case 0x309B:
			return 0x3099
		case 0x309C:
			return 0x309A
		}
		return r
	}, width.Fold.String(text))
	narrowed = norm.NFC.String(narrowed)
	return strings.Map(func(r rune) rune {
		// Katakana ァ..ヶ map onto hiragana ぁ..ゖ
		if r >= 0x30A1 && r <= 0x30F6 {
			return r - 0x60
		}
		return r
	}, narrowed)
}

// DigitsOnly drops every rune that is not an ASCII digit.
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// CountDigits counts ASCII digits in s.
func CountDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}

// IsCode reports whether s is exactly n ASCII digits.
func IsCode(s string, n int) bool {
	return len(s) == n && CountDigits(s) == n
}

// KeepScript keeps digits, ASCII letters, hiragana, katakana and CJK
// ideographs; everything else (punctuation, spaces, prose) is removed.
func KeepScript(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < utf8.RuneSelf && (unicode.IsDigit(r) || unicode.IsLetter(r)):
			return r
		case r >= 0x3040 && r <= 0x309F: // hiragana
			return r
		case r >= 0x30A0 && r <= 0x30FF: // katakana
			return r
		case r >= 0x4E00 && r <= 0x9FAF, r == '〇': // CJK ideographs
			return r
		}
		return -1
	}, s)
}
