package msa

import (
	"fmt"
	"strconv"
	"strings"
)

// MetadataMarker starts the trailing non-alignment record appended to
// serialized alignment files. Decoders skip it.
const MetadataMarker = ">NON_MSA_FILE_METADATA_LINE"

// JobMSA is the alignment bundle of one multi-chain job: one unpaired block
// per unique chain, optionally one paired block per unique chain, and the
// unique sequences with their copy counts.
type JobMSA struct {
	Unpaired        []string
	Paired          []string
	UniqueSequences []string
	Cardinality     []int
}

// IsHomoOligomer reports whether the job is multiple copies of one chain.
func (m *JobMSA) IsHomoOligomer() bool {
	return len(m.UniqueSequences) == 1 && m.Cardinality[0] > 1
}

// IsSingleProtein reports whether the job is one copy of one chain.
func (m *JobMSA) IsSingleProtein() bool {
	return len(m.UniqueSequences) == 1 && m.Cardinality[0] == 1
}

// String serializes the job into one self-describing text blob:
//
//	#L1,L2,...,Ln\tC1,C2,...,Cn
//	<paired then padded rows, each a 2-line FASTA record>
//
// The body is written with cardinality normalized to 1, which keeps it easy
// to parse and manipulate on the way back in.
func (m *JobMSA) String() string {
	lens := make([]string, len(m.UniqueSequences))
	cards := make([]string, len(m.Cardinality))
	ones := make([]int, len(m.Cardinality))
	for i, seq := range m.UniqueSequences {
		lens[i] = strconv.Itoa(len(seq))
		cards[i] = strconv.Itoa(m.Cardinality[i])
		ones[i] = 1
	}
	header := "#" + strings.Join(lens, ",") + "\t" + strings.Join(cards, ",") + "\n"
	body, err := Combine(m.UniqueSequences, ones, m.Paired, m.Unpaired)
	if err != nil {
		// A JobMSA without any alignment rows cannot be serialized usefully;
		// emit the header alone so the shape survives.
		return header
	}
	return header + body
}

// Unserialize reconstructs a JobMSA from serialized alignment text. Text
// without the '#' length header is accepted as a plain single-chain a3m for
// the given query. Identical (header, sequence) records are merged, the
// trailing metadata record is ignored, and each body row is classified as
// paired exactly when every chain segment contains at least one residue and
// the job is neither a single protein nor a homo-oligomer.
func Unserialize(text string, query []string) (*JobMSA, error) {
	text = strings.ReplaceAll(text, "\x00", "")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" || strings.HasPrefix(line, MetadataMarker) {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty alignment text")
	}

	if !strings.HasPrefix(lines[0], "#") || len(strings.Split(lines[0][1:], "\t")) != 2 {
		if len(query) != 1 {
			return nil, fmt.Errorf("alignment lacks a chain header but query has %d chains", len(query))
		}
		return &JobMSA{
			Unpaired:        []string{strings.Join(lines, "\n")},
			UniqueSequences: []string{query[0]},
			Cardinality:     []int{1},
		}, nil
	}
	if len(lines) < 3 {
		return nil, fmt.Errorf("alignment header present but no records follow")
	}

	lengths, cardinality, err := parseHeader(lines[0])
	if err != nil {
		return nil, err
	}
	isHomoOligomer := len(lengths) == 1 && cardinality[0] > 1
	isSingleProtein := len(lengths) == 1 && cardinality[0] == 1

	unique := make([]string, len(lengths))
	offset := 0
	for n, l := range lengths {
		if offset+l > len(lines[2]) {
			return nil, fmt.Errorf("first record shorter than declared chain lengths")
		}
		unique[n] = lines[2][offset : offset+l]
		offset += l
	}

	paired := make([]string, len(lengths))
	unpaired := make([]string, len(lengths))
	seen := make(map[[2]string]bool)
	for i := 1; i+1 < len(lines); i += 2 {
		header := lines[i]
		seq := lines[i+1]
		if seen[[2]string{header, seq}] {
			continue
		}
		seen[[2]string{header, seq}] = true

		segments, hasResidue := splitChainSegments(seq, lengths)
		allPresent := true
		for _, ok := range hasResidue {
			if !ok {
				allPresent = false
				break
			}
		}

		if !isSingleProtein && !isHomoOligomer && allPresent {
			names := strings.Split(strings.ReplaceAll(header, ">", ""), "\t")
			for j, segment := range segments {
				name := names[0]
				if j < len(names) {
					name = names[j]
				}
				paired[j] += ">" + name + "\n" + segment + "\n"
			}
		} else {
			for j, segment := range segments {
				if hasResidue[j] {
					unpaired[j] += header + "\n" + segment + "\n"
				}
			}
		}
	}

	m := &JobMSA{
		Unpaired:        unpaired,
		Paired:          paired,
		UniqueSequences: unique,
		Cardinality:     cardinality,
	}
	if isHomoOligomer {
		m.Paired = HomoOligomerPaired(unique[0], cardinality[0])
	}
	if isSingleProtein {
		m.Paired = nil
	}
	return m, nil
}

func parseHeader(line string) (lengths []int, cardinality []int, err error) {
	fields := strings.Split(line[1:], "\t")
	for _, s := range strings.Split(fields[0], ",") {
		l, perr := strconv.Atoi(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("bad chain length %q: %w", s, perr)
		}
		lengths = append(lengths, l)
	}
	for _, s := range strings.Split(fields[1], ",") {
		c, perr := strconv.Atoi(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("bad cardinality %q: %w", s, perr)
		}
		cardinality = append(cardinality, c)
	}
	if len(lengths) != len(cardinality) {
		return nil, nil, fmt.Errorf("header lists %d lengths but %d cardinalities", len(lengths), len(cardinality))
	}
	return lengths, cardinality, nil
}

// splitChainSegments cuts one concatenated alignment row back into
// per-chain segments of the declared match-state lengths. Lower-case insert
// characters belong to the current segment without consuming a column.
func splitChainSegments(seq string, lengths []int) (segments []string, hasResidue []bool) {
	segments = make([]string, len(lengths))
	hasResidue = make([]bool, len(lengths))
	pos := 0
	for n, queryLen := range lengths {
		var b strings.Builder
		cols := 0
		for ; pos < len(seq) && cols < queryLen; pos++ {
			c := seq[pos]
			b.WriteByte(c)
			if c >= 'a' && c <= 'z' {
				continue
			}
			if c != '-' {
				hasResidue[n] = true
			}
			cols++
		}
		segments[n] = b.String()
	}
	return segments, hasResidue
}

// HomoOligomerPaired synthesizes one pseudo-paired block per chain copy so a
// homo-oligomer still gets a joint alignment row per copy.
func HomoOligomerPaired(seq string, copies int) []string {
	blocks := make([]string, copies)
	for i := 0; i < copies; i++ {
		blocks[i] = fmt.Sprintf(">%d\n%s\n", 101+i, seq)
	}
	return blocks
}
