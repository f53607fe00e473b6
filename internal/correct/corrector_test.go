package correct_test

import (
	"testing"

	"github.com/rpgscribe/rpgscribe/internal/correct"
)

func TestCorrectorSubstitutesSingleWordName(t *testing.T) {
	t.Parallel()

	c := correct.NewCorrector(nil, []string{"Vexadrine", "Korvash"})

	got, corrections := c.CorrectDetailed("we spoke with vexadrean near the gate")
	if want := "we spoke with Vexadrine near the gate"; got != want {
		t.Errorf("CorrectDetailed = %q, want %q", got, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %d, want 1", len(corrections))
	}
	if corrections[0].Original != "vexadrean" || corrections[0].Corrected != "Vexadrine" {
		t.Errorf("correction = %+v", corrections[0])
	}
}

func TestCorrectorPrefersWidestWindow(t *testing.T) {
	t.Parallel()

	c := correct.NewCorrector(nil, []string{"Vault of Embers", "Vault"})

	got, corrections := c.CorrectDetailed("we reached the vault of ambers at dusk")
	if want := "we reached the Vault of Embers at dusk"; got != want {
		t.Errorf("CorrectDetailed = %q, want %q", got, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %d, want 1 (the three-word name, not Vault alone)", len(corrections))
	}
	if corrections[0].Original != "vault of ambers" {
		t.Errorf("Original = %q", corrections[0].Original)
	}
}

func TestCorrectorPreservesPunctuation(t *testing.T) {
	t.Parallel()

	c := correct.NewCorrector(nil, []string{"Vexadrine"})

	got, corrections := c.CorrectDetailed(`"vexadrean," she said.`)
	if want := `"Vexadrine," she said.`; got != want {
		t.Errorf("CorrectDetailed = %q, want %q", got, want)
	}
	if len(corrections) != 1 {
		t.Errorf("corrections = %d, want 1", len(corrections))
	}
}

func TestCorrectorLeavesUnmatchedTextAlone(t *testing.T) {
	t.Parallel()

	c := correct.NewCorrector(nil, []string{"Vexadrine"})

	text := "the party rested by the fire"
	got, corrections := c.CorrectDetailed(text)
	if got != text || len(corrections) != 0 {
		t.Errorf("CorrectDetailed = %q with %d corrections, want untouched input", got, len(corrections))
	}
}

func TestCorrectorAlreadyCanonicalIsNotACorrection(t *testing.T) {
	t.Parallel()

	c := correct.NewCorrector(nil, []string{"Vexadrine"})

	text := "Vexadrine nodded"
	got, corrections := c.CorrectDetailed(text)
	if got != text {
		t.Errorf("CorrectDetailed = %q, want unchanged", got)
	}
	if len(corrections) != 0 {
		t.Errorf("canonical spelling reported as a correction: %+v", corrections)
	}
}

func TestCorrectorDegenerateInputs(t *testing.T) {
	t.Parallel()

	noNames := correct.NewCorrector(nil, nil)
	text := "vexa dreen waits at the vault"
	if got := noNames.Correct(text); got != text {
		t.Errorf("no-name corrector rewrote text: %q", got)
	}

	c := correct.NewCorrector(nil, []string{"Vexadrine"})
	if got := c.Correct(""); got != "" {
		t.Errorf("Correct(\"\") = %q", got)
	}
	if got := c.Correct("... !!"); got != "... !!" {
		t.Errorf("punctuation-only input rewritten: %q", got)
	}
}
