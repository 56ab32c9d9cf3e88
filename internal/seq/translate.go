package seq

import (
	"strings"

	"github.com/TimothyStiles/poly/synthesis/codon"
)

const (
	StartCodon = "ATG"

	// standardCode is the NCBI index of the standard genetic code.
	standardCode = 1
)

var standardTable = codon.GetCodonTable(standardCode)

// Translate reads the standard genetic code from the first start codon, or
// from position 0 when there is none. Stop codons translate to '*' and do not
// end translation. The trailing partial codon is dropped.
func (s Sequence) Translate() string {
	start := strings.Index(s.symbols, StartCodon)
	if start < 0 {
		start = 0
	}
	region := s.symbols[start:]
	region = region[:len(region)-len(region)%CodonSize]
	if region == "" {
		return ""
	}
	protein, err := codon.Translate(region, standardTable)
	if err != nil {
		return ""
	}
	return protein
}
