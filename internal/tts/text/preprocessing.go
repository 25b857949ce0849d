// Package text normalises lecture transcripts before they are spoken and
// splits them into sentences and slide-sized chunks for rendering.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	numberBaseMillion  = 1000000

	// MaxNumberForWords is the largest integer spelled out; larger numbers are left as digits.
	MaxNumberForWords = 999999999
)

const (
	urlRegexPattern           = `https?://\S*[^\s.,;:!?)]`
	emailRegexPattern         = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern        = `\d+(?:\.\d+)?`
	referenceRegexPattern     = `\[\d+\]|\(\d+\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	citationRegexPattern      = `\([^)]*\d{4}[^)]*\)|\b\w+\s+et\s+al\.`
	whitespaceRegexPattern    = `\s+`
	spaceBeforePunctPattern   = ` ([.,!?;:])`
	repeatedPunctRegexPattern = `([!?.,;:])[!?.,;:]+`
	emptyParenthesesPattern   = `\(\s*\)`
)

// tokenMarker stands in for a preserved URL or email while the rest of the text is cleaned.
// It is a private-use rune, so no cleaning rule matches it.
const tokenMarker = "\uE000"

// Preprocessor turns raw lecture text into text a speech engine reads well.
// It is safe for concurrent use.
type Preprocessor struct {
	urlPattern           *regexp.Regexp
	emailPattern         *regexp.Regexp
	numberPattern        *regexp.Regexp
	referencePattern     *regexp.Regexp
	citationPattern      *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	spaceBeforePunct     *regexp.Regexp
	repeatedPunctPattern *regexp.Regexp
	emptyParentheses     *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	symbolReplacer       *strings.Replacer
}

// NewPreprocessor compiles the patterns used by PreprocessText.
func NewPreprocessor() *Preprocessor {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"Prof.", "Professor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
		"e.g.", "for example",
		"i.e.", "that is",
		"etc.", "et cetera",
		"vs.", "versus",
	}

	return &Preprocessor{
		urlPattern:           regexp.MustCompile(urlRegexPattern),
		emailPattern:         regexp.MustCompile(emailRegexPattern),
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		referencePattern:     regexp.MustCompile(referenceRegexPattern),
		citationPattern:      regexp.MustCompile(citationRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		spaceBeforePunct:     regexp.MustCompile(spaceBeforePunctPattern),
		repeatedPunctPattern: regexp.MustCompile(repeatedPunctRegexPattern),
		emptyParentheses:     regexp.MustCompile(emptyParenthesesPattern),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		symbolReplacer: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// PreprocessText normalises a transcript: URLs and emails are kept verbatim,
// abbreviations are expanded, reference markers and citations are dropped,
// numbers are spelled out and whitespace and punctuation are tidied.
func (p *Preprocessor) PreprocessText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	cleaned, tokens := p.preserveTokens(text)

	cleaned = p.abbreviationReplacer.Replace(cleaned)
	cleaned = p.referencePattern.ReplaceAllString(cleaned, "")
	cleaned = p.citationPattern.ReplaceAllString(cleaned, "")
	cleaned = p.emptyParentheses.ReplaceAllString(cleaned, "")
	cleaned = p.normalizeNumbers(cleaned)
	cleaned = p.normalizeWhitespace(cleaned)
	cleaned = p.repeatedPunctPattern.ReplaceAllString(cleaned, "$1")
	cleaned = p.symbolReplacer.Replace(cleaned)
	cleaned = restoreTokens(cleaned, tokens)

	return ensureSentenceEnding(cleaned)
}

func (p *Preprocessor) preserveTokens(text string) (string, []string) {
	var tokens []string

	keep := func(match string) string {
		tokens = append(tokens, match)

		return tokenMarker
	}

	text = p.urlPattern.ReplaceAllStringFunc(text, keep)
	text = p.emailPattern.ReplaceAllStringFunc(text, keep)

	return text, tokens
}

// restoreTokens puts preserved tokens back in the order they were taken out.
func restoreTokens(text string, tokens []string) string {
	for _, token := range tokens {
		text = strings.Replace(text, tokenMarker, token, 1)
	}

	return text
}

func (p *Preprocessor) normalizeNumbers(text string) string {
	return p.numberPattern.ReplaceAllStringFunc(text, func(match string) string {
		whole, fraction, hasFraction := strings.Cut(match, ".")

		number, err := strconv.Atoi(whole)
		if err != nil || number > MaxNumberForWords {
			return match
		}

		words := integerToWords(number)
		if !hasFraction {
			return words
		}

		digits := make([]string, 0, len(fraction))
		for _, digit := range fraction {
			digits = append(digits, integerToWords(int(digit-'0')))
		}

		return words + " point " + strings.Join(digits, " ")
	})
}

func (p *Preprocessor) normalizeWhitespace(text string) string {
	text = p.whitespacePattern.ReplaceAllString(text, " ")
	text = p.spaceBeforePunct.ReplaceAllString(text, "$1")

	return strings.TrimSpace(text)
}

func ensureSentenceEnding(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	body := strings.TrimRight(text, `"')`)
	if body == "" {
		return text
	}

	lastChar, _ := utf8.DecodeLastRuneInString(body)

	switch lastChar {
	case '.', '!', '?':
		return text
	default:
		return text + "."
	}
}

// SplitSentences breaks text at sentence-ending punctuation followed by whitespace.
func SplitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)

	runes := []rune(text)

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		current.Reset()
	}

	for i, char := range runes {
		current.WriteRune(char)

		if !isSentenceEnd(char) {
			continue
		}

		if i == len(runes)-1 || isSpace(runes[i+1]) {
			flush()
		}
	}

	flush()

	return sentences
}

// Chunk groups consecutive sentences into pieces of at most maxChars runes.
// A single sentence longer than maxChars becomes a chunk of its own.
func Chunk(text string, maxChars int) []string {
	var (
		chunks  []string
		current string
	)

	for _, sentence := range SplitSentences(text) {
		if current == "" {
			current = sentence

			continue
		}

		candidate := current + " " + sentence
		if utf8.RuneCountInString(candidate) > maxChars {
			chunks = append(chunks, current)
			current = sentence

			continue
		}

		current = candidate
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// WordCount returns the number of whitespace separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func isSentenceEnd(char rune) bool {
	return char == '.' || char == '!' || char == '?'
}

func isSpace(char rune) bool {
	return char == ' ' || char == '\n' || char == '\t' || char == '\r'
}

var (
	onesWords = []string{
		"zero", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// integerToWords spells out 0 <= number <= MaxNumberForWords in English.
func integerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return onesWords[0]
	}

	var parts []string

	for _, scale := range []struct {
		value int
		name  string
	}{
		{numberBaseMillion, "million"},
		{numberBaseThousand, "thousand"},
	} {
		if number >= scale.value {
			parts = append(parts, underThousand(number/scale.value)+" "+scale.name)
			number %= scale.value
		}
	}

	if number > 0 {
		parts = append(parts, underThousand(number))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	var parts []string

	if number >= numberBaseHundred {
		parts = append(parts, onesWords[number/numberBaseHundred]+" hundred")
		number %= numberBaseHundred
	}

	switch {
	case number == 0:
	case number < numberBaseTen:
		parts = append(parts, onesWords[number])
	case number < numberBaseTwenty:
		parts = append(parts, teensWords[number-numberBaseTen])
	default:
		word := tensWords[number/numberBaseTen]
		if number%numberBaseTen > 0 {
			word += " " + onesWords[number%numberBaseTen]
		}

		parts = append(parts, word)
	}

	return strings.Join(parts, " ")
}
