package msa

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAlignments is reported when a job carries neither paired nor
// unpaired alignment data. This is a configuration error.
var ErrNoAlignments = errors.New("no paired or unpaired alignments to combine")

// PairSequences builds one joint row per hit index across all chains of a
// complex. Every per-chain block must already be aligned to the same number
// of hit rows; the first chain keeps its '>' marker, subsequent chains'
// markers become a tab field separator, and residue text is repeated per
// chain cardinality.
func PairSequences(blocks []string, unique []string, cardinality []int) (string, error) {
	if len(blocks) == 0 {
		return "", ErrNoAlignments
	}
	rows := strings.Split(blocks[0], "\n")
	paired := make([]string, len(rows))
	for n := range unique {
		lines := strings.Split(blocks[n], "\n")
		if len(lines) != len(rows) {
			return "", fmt.Errorf("paired block %d has %d rows, want %d", n, len(lines), len(rows))
		}
		for i, line := range lines {
			if strings.HasPrefix(line, ">") {
				if n != 0 {
					line = strings.Replace(line, ">", "\t", 1)
				}
				paired[i] += line
			} else {
				paired[i] += strings.Repeat(line, cardinality[n])
			}
		}
	}
	return strings.Join(paired, "\n"), nil
}

// PadSequences embeds each chain's independently searched rows into a
// block-diagonal combination: the real aligned row sits at its running
// chain position and every other chain segment is all gaps.
func PadSequences(blocks []string, unique []string, cardinality []int) string {
	var blank []string
	for n, seq := range unique {
		for j := 0; j < cardinality[n]; j++ {
			blank = append(blank, strings.Repeat("-", len(seq)))
		}
	}

	var combined []string
	pos := 0
	for n := range unique {
		for j := 0; j < cardinality[n]; j++ {
			for _, line := range strings.Split(blocks[n], "\n") {
				if len(line) == 0 {
					continue
				}
				if strings.HasPrefix(line, ">") {
					combined = append(combined, line)
					continue
				}
				row := make([]string, 0, len(blank))
				row = append(row, blank[:pos]...)
				row = append(row, line)
				row = append(row, blank[pos+1:]...)
				combined = append(combined, strings.Join(row, ""))
			}
			pos++
		}
	}
	return strings.Join(combined, "\n")
}

// Combine merges a job's alignments into one a3m text: padded rows when only
// unpaired data exists, paired rows when only paired data exists, paired
// followed by padded when both exist.
func Combine(unique []string, cardinality []int, paired []string, unpaired []string) (string, error) {
	switch {
	case paired == nil && unpaired != nil:
		return PadSequences(unpaired, unique, cardinality), nil
	case paired != nil && unpaired != nil:
		pairedRows, err := PairSequences(paired, unique, cardinality)
		if err != nil {
			return "", err
		}
		return pairedRows + "\n" + PadSequences(unpaired, unique, cardinality), nil
	case paired != nil && unpaired == nil:
		return PairSequences(paired, unique, cardinality)
	default:
		return "", ErrNoAlignments
	}
}
