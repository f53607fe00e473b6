// Package correct repairs speech-to-text misrecognitions of campaign proper
// nouns in transcribed lines. Whisper-style engines replace a name they have
// never seen with the nearest phonetically-plausible dictionary words, so
// recovery keys on sound: every known name is indexed up front by the Double
// Metaphone codes of its words and of its run-together spelling, a
// transcribed window is only ever compared against names it shares a code
// with, and surviving candidates are ranked by one blended score of spelling
// similarity and phonetic agreement. There is deliberately no spelling-only
// fallback: a window that shares no sound with a name is ordinary speech,
// however close the letters happen to look.
package correct

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// defaultMinScore is tuned for the engine's failure mode: a name split
	// into real words keeps its sound (phonetic agreement 1) while the
	// spelling drifts, so identical-sounding windows pass at moderate
	// spelling similarity, and common words that merely resemble a name
	// fall short.
	defaultMinScore = 0.80

	spellingWeight = 0.65
	soundWeight    = 0.35
)

// Lexicon is the phonetic index over a campaign's known names, built once
// per session and read-only afterwards.
type Lexicon struct {
	entries  []lexEntry
	byCode   map[string][]int
	maxWords int
}

type lexEntry struct {
	display string
	compact string

	// codes holds every phonetic code of the name: per word and for the
	// run-together spelling. wholeCodes holds only the latter, so "the
	// window sounds like the whole name" can be tested separately from
	// "the window contains a word of the name".
	codes      map[string]struct{}
	wholeCodes map[string]struct{}
}

// NewLexicon indexes names. Blank names are skipped; display forms are kept
// verbatim for substitution.
func NewLexicon(names []string) *Lexicon {
	lex := &Lexicon{byCode: make(map[string][]int)}
	for _, name := range names {
		name = strings.TrimSpace(name)
		compact := compactForm(name)
		if compact == "" {
			continue
		}
		words := wordsOf(name)
		entry := lexEntry{
			display:    name,
			compact:    compact,
			codes:      phoneticCodes(words, compact),
			wholeCodes: phoneticCodes(nil, compact),
		}
		idx := len(lex.entries)
		lex.entries = append(lex.entries, entry)
		for code := range entry.codes {
			lex.byCode[code] = append(lex.byCode[code], idx)
		}
		if len(words) > lex.maxWords {
			lex.maxWords = len(words)
		}
	}
	return lex
}

// MaxWords reports the longest indexed name in words.
func (l *Lexicon) MaxWords() int {
	return l.maxWords
}

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithMinScore overrides the blended-score floor a candidate must reach.
// Default 0.80.
func WithMinScore(score float64) MatcherOption {
	return func(m *Matcher) {
		m.minScore = score
	}
}

// Matcher scores transcribed windows against a [Lexicon]. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	minScore float64
}

// NewMatcher builds a Matcher with the default score floor.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{minScore: defaultMinScore}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Lookup resolves phrase against lex. Candidates are gathered purely through
// the phonetic index; the best one is returned when its blended score
// reaches the matcher's floor. On a miss, phrase is returned unchanged with
// score 0.
func (m *Matcher) Lookup(phrase string, lex *Lexicon) (name string, score float64, ok bool) {
	if lex == nil || len(lex.entries) == 0 {
		return phrase, 0, false
	}
	compact := compactForm(phrase)
	// Two letters of audio is not enough signal to override a transcript.
	if len(compact) < 3 {
		return phrase, 0, false
	}

	wholeCodes := phoneticCodes(nil, compact)
	probes := phoneticCodes(wordsOf(phrase), compact)

	bestIdx := -1
	var bestScore float64
	scored := make(map[int]struct{})
	for code := range probes {
		for _, idx := range lex.byCode[code] {
			if _, done := scored[idx]; done {
				continue
			}
			scored[idx] = struct{}{}

			s := m.blendedScore(compact, wholeCodes, probes, lex.entries[idx])
			if s > bestScore {
				bestScore, bestIdx = s, idx
			}
		}
	}

	if bestIdx < 0 || bestScore < m.minScore {
		return phrase, 0, false
	}
	return lex.entries[bestIdx].display, bestScore, true
}

// blendedScore combines spelling similarity on the run-together forms with
// phonetic agreement. An exact compact match is a perfect score regardless
// of display casing.
func (m *Matcher) blendedScore(compact string, wholeCodes, probes map[string]struct{}, e lexEntry) float64 {
	if compact == e.compact {
		return 1
	}

	spelling := matchr.JaroWinkler(compact, e.compact, false)

	// Jaro-Winkler scores containment generously: a wide window that merely
	// includes a short name still rates high. Discount the spelling term by
	// the length imbalance so only windows sized like the name can win.
	shortLen, longLen := len(compact), len(e.compact)
	if shortLen > longLen {
		shortLen, longLen = longLen, shortLen
	}
	spelling *= 0.5 + 0.5*float64(shortLen)/float64(longLen)

	// Agreement is 1 only when the window as a whole sounds like the name
	// as a whole. Otherwise it is the fraction of the window's codes the
	// name accounts for, which stays low when a stopword-padded window
	// merely contains one word of a name.
	agreement := 1.0
	if !intersects(wholeCodes, e.wholeCodes) {
		shared := 0
		for code := range probes {
			if _, ok := e.codes[code]; ok {
				shared++
			}
		}
		agreement = float64(shared) / float64(len(probes))
	}

	return spellingWeight*spelling + soundWeight*agreement
}

func intersects(a, b map[string]struct{}) bool {
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// phoneticCodes collects the Double Metaphone codes of each word plus the
// run-together form, so a name survives being split into (or merged from)
// several transcript words.
func phoneticCodes(words []string, compact string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*(len(words)+1))
	add := func(s string) {
		primary, secondary := matchr.DoubleMetaphone(s)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	for _, w := range words {
		add(w)
	}
	add(compact)
	return codes
}

// compactForm lowercases s and strips everything [isWordRune] rejects.
func compactForm(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if isWordRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// wordsOf splits s into lowercased alphanumeric runs.
func wordsOf(s string) []string {
	var words []string
	var cur strings.Builder
	for _, r := range strings.ToLower(s) {
		if isWordRune(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}

func isWordRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' || r == '\''
}
