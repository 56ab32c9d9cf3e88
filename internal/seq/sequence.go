package seq

import (
	"bytes"
	"errors"
	"fmt"
)

const CodonSize = 3

// Alphabet lists the accepted nucleotide symbols in canonical order.
const Alphabet = "ACGT"

var (
	ErrInvalidSequence = errors.New("invalid sequence")
	ErrIncompleteCodon = errors.New("incomplete codon")
)

// InvalidSequenceError reports the first symbol outside the nucleotide alphabet.
type InvalidSequenceError struct {
	Position int
	Symbol   byte
}

func (e *InvalidSequenceError) Error() string {
	return fmt.Sprintf("invalid nucleotide %q at position %d", e.Symbol, e.Position)
}

func (e *InvalidSequenceError) Unwrap() error {
	return ErrInvalidSequence
}

// IncompleteCodonError reports codon-aligned access past the last complete triplet.
type IncompleteCodonError struct {
	Index  int
	Length int
}

func (e *IncompleteCodonError) Error() string {
	return fmt.Sprintf("codon %d is not a complete triplet in sequence of length %d", e.Index, e.Length)
}

func (e *IncompleteCodonError) Unwrap() error {
	return ErrIncompleteCodon
}

// Sequence is an immutable coding sequence. The zero value is the empty sequence.
type Sequence struct {
	symbols string
}

// New validates raw symbols. Lowercase input is accepted and normalized.
func New(raw []byte) (Sequence, error) {
	normalized := bytes.ToUpper(raw)
	for i, b := range normalized {
		if !IsNucleotide(b) {
			return Sequence{}, &InvalidSequenceError{Position: i, Symbol: raw[i]}
		}
	}
	return Sequence{symbols: string(normalized)}, nil
}

func Parse(s string) (Sequence, error) {
	return New([]byte(s))
}

// MustParse is for literals in tests and fixtures.
func MustParse(s string) Sequence {
	out, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return out
}

func IsNucleotide(b byte) bool {
	switch b {
	case 'A', 'C', 'G', 'T':
		return true
	default:
		return false
	}
}

func (s Sequence) Len() int {
	return len(s.symbols)
}

func (s Sequence) At(pos int) byte {
	return s.symbols[pos]
}

func (s Sequence) String() string {
	return s.symbols
}

func (s Sequence) Bytes() []byte {
	return []byte(s.symbols)
}

func (s Sequence) Equal(other Sequence) bool {
	return s.symbols == other.symbols
}

// CodonCount is the number of complete triplets.
func (s Sequence) CodonCount() int {
	return len(s.symbols) / CodonSize
}

// MutableLen is the length of the complete-codon region. Positions at or past
// it belong to the trailing partial codon.
func (s Sequence) MutableLen() int {
	return s.CodonCount() * CodonSize
}

func (s Sequence) Codon(index int) (string, error) {
	if index < 0 || index >= s.CodonCount() {
		return "", &IncompleteCodonError{Index: index, Length: len(s.symbols)}
	}
	start := index * CodonSize
	return s.symbols[start : start+CodonSize], nil
}

func (s Sequence) WithSubstitution(pos int, symbol byte) (Sequence, error) {
	if pos < 0 || pos >= len(s.symbols) {
		return Sequence{}, fmt.Errorf("substitution position out of range: %d", pos)
	}
	if !IsNucleotide(symbol) {
		return Sequence{}, &InvalidSequenceError{Position: pos, Symbol: symbol}
	}
	buf := []byte(s.symbols)
	buf[pos] = symbol
	return Sequence{symbols: string(buf)}, nil
}

func (s Sequence) WithInsertion(pos int, symbols []byte) (Sequence, error) {
	if pos < 0 || pos > len(s.symbols) {
		return Sequence{}, fmt.Errorf("insertion position out of range: %d", pos)
	}
	for i, b := range symbols {
		if !IsNucleotide(b) {
			return Sequence{}, &InvalidSequenceError{Position: pos + i, Symbol: b}
		}
	}
	buf := make([]byte, 0, len(s.symbols)+len(symbols))
	buf = append(buf, s.symbols[:pos]...)
	buf = append(buf, symbols...)
	buf = append(buf, s.symbols[pos:]...)
	return Sequence{symbols: string(buf)}, nil
}

// WithDeletion removes up to n symbols starting at pos, clipping at the end.
func (s Sequence) WithDeletion(pos, n int) (Sequence, error) {
	if pos < 0 || pos > len(s.symbols) {
		return Sequence{}, fmt.Errorf("deletion position out of range: %d", pos)
	}
	if n < 0 {
		return Sequence{}, fmt.Errorf("deletion length must be >= 0: %d", n)
	}
	end := len(s.symbols)
	if n < end-pos {
		end = pos + n
	}
	return Sequence{symbols: s.symbols[:pos] + s.symbols[end:]}, nil
}

func (s Sequence) MarshalText() ([]byte, error) {
	return []byte(s.symbols), nil
}

func (s *Sequence) UnmarshalText(text []byte) error {
	parsed, err := New(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
