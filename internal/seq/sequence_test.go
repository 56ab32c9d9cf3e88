package seq

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestParseNormalizesCase(t *testing.T) {
	s, err := Parse("atgAAAtaa")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.String() != "ATGAAATAA" {
		t.Fatalf("unexpected symbols: %s", s)
	}
	if s.Len() != 9 || s.CodonCount() != 3 || s.MutableLen() != 9 {
		t.Fatalf("unexpected geometry: len=%d codons=%d mutable=%d", s.Len(), s.CodonCount(), s.MutableLen())
	}
}

func TestParseRejectsNonNucleotide(t *testing.T) {
	_, err := Parse("ATGNAA")
	if err == nil {
		t.Fatal("expected invalid sequence error")
	}
	var invalid *InvalidSequenceError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSequenceError, got %T", err)
	}
	if invalid.Position != 3 || invalid.Symbol != 'N' {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}
	if !errors.Is(err, ErrInvalidSequence) {
		t.Fatal("expected errors.Is match on ErrInvalidSequence")
	}
}

func TestCodonRejectsTrailingPartialCodon(t *testing.T) {
	s := MustParse("ATGAAATA")
	codon, err := s.Codon(1)
	if err != nil {
		t.Fatalf("codon 1: %v", err)
	}
	if codon != "AAA" {
		t.Fatalf("unexpected codon: %s", codon)
	}
	if s.MutableLen() != 6 {
		t.Fatalf("unexpected mutable length: %d", s.MutableLen())
	}

	_, err = s.Codon(2)
	if !errors.Is(err, ErrIncompleteCodon) {
		t.Fatalf("expected incomplete codon error, got %v", err)
	}
	_, err = s.Codon(-1)
	if !errors.Is(err, ErrIncompleteCodon) {
		t.Fatalf("expected incomplete codon error for negative index, got %v", err)
	}
}

func TestCopyOperationsLeaveReceiverUnchanged(t *testing.T) {
	orig := MustParse("ATGAAATAA")

	sub, err := orig.WithSubstitution(3, 'G')
	if err != nil {
		t.Fatalf("substitution: %v", err)
	}
	ins, err := orig.WithInsertion(3, []byte("CC"))
	if err != nil {
		t.Fatalf("insertion: %v", err)
	}
	del, err := orig.WithDeletion(3, 3)
	if err != nil {
		t.Fatalf("deletion: %v", err)
	}

	if orig.String() != "ATGAAATAA" {
		t.Fatalf("receiver mutated: %s", orig)
	}
	if sub.String() != "ATGGAATAA" {
		t.Fatalf("unexpected substitution: %s", sub)
	}
	if ins.String() != "ATGCCAAATAA" {
		t.Fatalf("unexpected insertion: %s", ins)
	}
	if del.String() != "ATGTAA" {
		t.Fatalf("unexpected deletion: %s", del)
	}
}

func TestDeletionClipsAtEnd(t *testing.T) {
	s := MustParse("ATGAA")
	out, err := s.WithDeletion(3, 10)
	if err != nil {
		t.Fatalf("deletion: %v", err)
	}
	if out.String() != "ATG" {
		t.Fatalf("unexpected clipped deletion: %s", out)
	}

	empty, err := Sequence{}.WithDeletion(0, 1)
	if err != nil {
		t.Fatalf("delete from empty: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("expected empty sequence, got %s", empty)
	}
}

func TestMutationOperationsValidateInput(t *testing.T) {
	s := MustParse("ATG")
	if _, err := s.WithSubstitution(3, 'A'); err == nil {
		t.Fatal("expected out of range substitution error")
	}
	if _, err := s.WithSubstitution(0, 'X'); !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("expected invalid symbol error, got %v", err)
	}
	if _, err := s.WithInsertion(4, []byte("A")); err == nil {
		t.Fatal("expected out of range insertion error")
	}
	if _, err := s.WithInsertion(1, []byte("AU")); !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("expected invalid inserted symbol error, got %v", err)
	}
	if _, err := s.WithDeletion(0, -1); err == nil {
		t.Fatal("expected negative deletion length error")
	}
}

func TestBytesReturnsCopy(t *testing.T) {
	s := MustParse("ACGT")
	b := s.Bytes()
	b[0] = 'T'
	if s.String() != "ACGT" {
		t.Fatalf("sequence aliased its bytes: %s", s)
	}
}

func TestTranslateFromFirstStartCodon(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "CCATGAAATAA", want: "MK*"},
		{in: "ATGAAATAAG", want: "MK*"},
		{in: "GGGCCC", want: "GP"},
		{in: "GGTGGCGGAGGG", want: "GGGG"},
		{in: "AT", want: ""},
	}
	for _, tc := range cases {
		if got := MustParse(tc.in).Translate(); got != tc.want {
			t.Fatalf("translate %s: got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestTranslateCoversEveryCodon(t *testing.T) {
	const bases = "ACGT"
	seen := map[byte]bool{}
	for _, a := range bases {
		for _, b := range bases {
			for _, c := range bases {
				codon := string([]rune{a, b, c})
				protein := MustParse(codon).Translate()
				if len(protein) != 1 {
					t.Fatalf("translate %s: got %q", codon, protein)
				}
				residue := protein[0]
				if !strings.ContainsRune("ACDEFGHIKLMNPQRSTVWY*", rune(residue)) {
					t.Fatalf("translate %s: unexpected residue %q", codon, residue)
				}
				seen[residue] = true
			}
		}
	}
	if len(seen) != 21 {
		t.Fatalf("expected 20 amino acids and stop, got %d symbols", len(seen))
	}
}

func TestWithDeletionClipsHugeLengths(t *testing.T) {
	s := MustParse("ATGAAATAA")
	out, err := s.WithDeletion(3, math.MaxInt)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out.String() != "ATG" {
		t.Fatalf("unexpected result: %s", out)
	}
}
