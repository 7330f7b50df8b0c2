// Package msa handles multi-chain alignment text: parsing, cropping,
// pairing and the compact serialization used for cache/resume.
package msa

import "strings"

// ParseFasta splits FASTA text into sequences and their descriptions.
// Lines starting with '#' are comments and skipped, which also covers the
// length/cardinality header of serialized alignments.
func ParseFasta(text string) (sequences []string, descriptions []string) {
	index := -1
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, ">") {
			index++
			descriptions = append(descriptions, line[1:])
			sequences = append(sequences, "")
			continue
		}
		if index >= 0 {
			sequences[index] += line
		}
	}
	return sequences, descriptions
}

// Unique deduplicates chain sequences in first-seen order and counts how
// many copies of each unique sequence the complex contains.
func Unique(chains []string) (unique []string, cardinality []int) {
	seen := make(map[string]int)
	for _, seq := range chains {
		if i, ok := seen[seq]; ok {
			cardinality[i]++
			continue
		}
		seen[seq] = len(unique)
		unique = append(unique, seq)
		cardinality = append(cardinality, 1)
	}
	return unique, cardinality
}
