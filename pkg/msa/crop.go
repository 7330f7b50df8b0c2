package msa

import "strings"

// WholeChain is the sentinel end position meaning "no crop, keep the full
// range". It is pervasive in chain-region metadata.
const WholeChain = -1

// Crop trims every row of an a3m block to the 1-based inclusive residue
// range [start, end]. Insert characters (lower case) are stripped first, so
// the slice operates on match-state columns only. With dropEmpty set, rows
// whose cropped content is all gaps are removed along with their header.
func Crop(a3mText string, start, end int, dropEmpty bool) string {
	if end == WholeChain {
		return a3mText
	}

	var out []string
	var header string
	for _, line := range strings.Split(a3mText, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			header = line
			continue
		}
		if header == "" {
			continue
		}
		row := stripInserts(line)
		lo := start - 1
		hi := end
		if lo > len(row) {
			lo = len(row)
		}
		if hi > len(row) {
			hi = len(row)
		}
		row = row[lo:hi]
		if dropEmpty && strings.Count(row, "-") == len(row) {
			continue
		}
		out = append(out, header, row)
	}
	return strings.Join(out, "\n")
}

func stripInserts(row string) string {
	var b strings.Builder
	b.Grow(len(row))
	for i := 0; i < len(row); i++ {
		c := row[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
