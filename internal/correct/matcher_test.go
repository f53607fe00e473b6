package correct_test

import (
	"testing"

	"github.com/rpgscribe/rpgscribe/internal/correct"
)

var campaignNames = []string{"Vexadrine", "Korvash", "Vault of Embers"}

func TestLookupRecoversSplitName(t *testing.T) {
	t.Parallel()

	m := correct.NewMatcher()
	lex := correct.NewLexicon(campaignNames)

	// A name the engine has never seen comes back as two dictionary-ish
	// words; the run-together form still carries the sound.
	name, score, ok := m.Lookup("vexa dreen", lex)
	if !ok {
		t.Fatalf("Lookup(%q) missed", "vexa dreen")
	}
	if name != "Vexadrine" {
		t.Errorf("Lookup(%q) = %q, want Vexadrine", "vexa dreen", name)
	}
	if score < 0.8 {
		t.Errorf("score = %f, want >= matcher floor", score)
	}
}

func TestLookupMatchesMultiWordName(t *testing.T) {
	t.Parallel()

	m := correct.NewMatcher()
	lex := correct.NewLexicon(campaignNames)

	name, _, ok := m.Lookup("vault of ambers", lex)
	if !ok || name != "Vault of Embers" {
		t.Fatalf("Lookup(%q) = %q ok=%v, want Vault of Embers", "vault of ambers", name, ok)
	}
}

func TestLookupIgnoresOrdinarySpeech(t *testing.T) {
	t.Parallel()

	m := correct.NewMatcher()
	lex := correct.NewLexicon(campaignNames)

	for _, phrase := range []string{"hello", "the party rested", "we", "gate"} {
		name, score, ok := m.Lookup(phrase, lex)
		if ok {
			t.Errorf("Lookup(%q) matched %q (score %f), want miss", phrase, name, score)
		}
		if name != phrase || score != 0 {
			t.Errorf("Lookup(%q) miss = (%q, %f), want phrase unchanged with score 0", phrase, name, score)
		}
	}
}

func TestLookupExactAndCaseFoldedHits(t *testing.T) {
	t.Parallel()

	m := correct.NewMatcher()
	lex := correct.NewLexicon(campaignNames)

	name, score, ok := m.Lookup("korvash", lex)
	if !ok || name != "Korvash" {
		t.Fatalf("Lookup(korvash) = %q ok=%v", name, ok)
	}
	if score != 1 {
		t.Errorf("exact compact hit score = %f, want 1", score)
	}

	if name, _, ok := m.Lookup("VEXADRINE", lex); !ok || name != "Vexadrine" {
		t.Errorf("Lookup(VEXADRINE) = %q ok=%v, want canonical Vexadrine", name, ok)
	}
}

func TestLookupEmptyLexicon(t *testing.T) {
	t.Parallel()

	m := correct.NewMatcher()

	if _, _, ok := m.Lookup("korvash", correct.NewLexicon(nil)); ok {
		t.Error("empty lexicon produced a match")
	}
	if _, _, ok := m.Lookup("korvash", nil); ok {
		t.Error("nil lexicon produced a match")
	}
}

func TestLookupHonoursMinScore(t *testing.T) {
	t.Parallel()

	strict := correct.NewMatcher(correct.WithMinScore(0.999))
	lex := correct.NewLexicon(campaignNames)

	// Phonetically adjacent but not letter-perfect; a near-1 floor rejects
	// everything short of an exact hit.
	if name, _, ok := strict.Lookup("vexa dreen", lex); ok {
		t.Errorf("strict matcher accepted %q", name)
	}
	if _, score, ok := strict.Lookup("korvash", lex); !ok || score != 1 {
		t.Errorf("strict matcher should still take the exact hit, got ok=%v score=%f", ok, score)
	}
}

func TestLexiconMaxWords(t *testing.T) {
	t.Parallel()

	if got := correct.NewLexicon(campaignNames).MaxWords(); got != 3 {
		t.Errorf("MaxWords = %d, want 3", got)
	}
	if got := correct.NewLexicon(nil).MaxWords(); got != 0 {
		t.Errorf("empty lexicon MaxWords = %d, want 0", got)
	}
	if got := correct.NewLexicon([]string{"", "  "}).MaxWords(); got != 0 {
		t.Errorf("blank-only lexicon MaxWords = %d, want 0", got)
	}
}
