package correct

import "strings"

// Correction records one substitution made by [Corrector.CorrectDetailed].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector rewrites known names into transcribed lines. It indexes the
// campaign's names once at construction and holds no per-call state, so it
// is safe for concurrent use.
type Corrector struct {
	matcher *Matcher
	lex     *Lexicon
}

// NewCorrector builds a Corrector over names. A nil matcher gets
// [NewMatcher]'s defaults.
func NewCorrector(matcher *Matcher, names []string) *Corrector {
	if matcher == nil {
		matcher = NewMatcher()
	}
	return &Corrector{matcher: matcher, lex: NewLexicon(names)}
}

// Correct returns text with recognised name fragments replaced by their
// canonical forms. It satisfies the narrow corrector interface the
// transcription worker depends on.
func (c *Corrector) Correct(text string) string {
	corrected, _ := c.CorrectDetailed(text)
	return corrected
}

// CorrectDetailed additionally reports every substitution made.
//
// The scan walks the word spans of text left to right. At each position the
// widest window that the lexicon could still name is looked up first, so
// "tower of wispers" resolves to the three-word name before "tower" alone
// can claim it. Replacements are spliced in by byte offset; everything
// between words (punctuation, spacing) is carried over untouched.
func (c *Corrector) CorrectDetailed(text string) (string, []Correction) {
	if c.lex.MaxWords() == 0 || text == "" {
		return text, nil
	}
	spans := wordSpans(text)
	if len(spans) == 0 {
		return text, nil
	}

	var out strings.Builder
	var corrections []Correction
	copied := 0

	for i := 0; i < len(spans); {
		widest := c.lex.MaxWords()
		if rest := len(spans) - i; rest < widest {
			widest = rest
		}

		consumed := 0
		for n := widest; n >= 1; n-- {
			window := text[spans[i].start:spans[i+n-1].end]
			name, score, ok := c.matcher.Lookup(window, c.lex)
			if !ok {
				continue
			}
			if window != name {
				out.WriteString(text[copied:spans[i].start])
				out.WriteString(name)
				copied = spans[i+n-1].end
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  name,
					Confidence: score,
				})
			}
			consumed = n
			break
		}

		if consumed == 0 {
			consumed = 1
		}
		i += consumed
	}

	if len(corrections) == 0 {
		return text, nil
	}
	out.WriteString(text[copied:])
	return out.String(), corrections
}

// span is a half-open byte range of one word run in the input.
type span struct {
	start, end int
}

// wordSpans locates the alphanumeric runs of text by byte offset.
func wordSpans(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			spans = append(spans, span{start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, span{start: start, end: len(text)})
	}
	return spans
}
