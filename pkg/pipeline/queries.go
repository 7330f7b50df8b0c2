package pipeline

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ernst-schmid/foldpipe/internal/util"
	"github.com/ernst-schmid/foldpipe/pkg/msa"
)

// Query is one prediction job: a name and its chain sequences. Jobs read
// from precomputed alignment files also carry the raw alignment text, in
// which case acquisition is skipped.
type Query struct {
	Name      string
	Sequences []string
	A3MLines  string
}

// IsComplex reports whether the job has more than one chain, counting
// copies of the same sequence.
func (q *Query) IsComplex() bool {
	return len(q.Sequences) > 1
}

// TotalLength is the summed chain length, used for sorting.
func (q *Query) TotalLength() int {
	n := 0
	for _, s := range q.Sequences {
		n += len(s)
	}
	return n
}

// GetQueries reads prediction jobs from path: a fasta file, a csv/tsv
// table, a precomputed .a3m (optionally xz-compressed), or a directory of
// such files. sortBy is "none", "length" or "random".
func GetQueries(path string, sortBy string) ([]Query, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}

	var queries []Query
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read input dir %s: %w", path, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			qs, err := readQueryFile(filepath.Join(path, e.Name()))
			if err != nil {
				return nil, err
			}
			queries = append(queries, qs...)
		}
	} else {
		queries, err = readQueryFile(path)
		if err != nil {
			return nil, err
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries found in %s", path)
	}

	switch sortBy {
	case "", "none":
	case "length":
		sort.SliceStable(queries, func(i, j int) bool {
			return queries[i].TotalLength() < queries[j].TotalLength()
		})
	case "random":
		rand.Shuffle(len(queries), func(i, j int) {
			queries[i], queries[j] = queries[j], queries[i]
		})
	default:
		return nil, fmt.Errorf("unknown sort order %q", sortBy)
	}
	return queries, nil
}

func readQueryFile(path string) ([]Query, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch {
	case strings.HasSuffix(path, ".a3m"), strings.HasSuffix(path, ".a3m.xz"):
		q, err := readA3MQuery(path)
		if err != nil {
			return nil, err
		}
		return []Query{*q}, nil
	case strings.HasSuffix(path, ".csv"), strings.HasSuffix(path, ".tsv"):
		return readTableQueries(path)
	case strings.HasSuffix(path, ".fasta"), strings.HasSuffix(path, ".fa"), strings.HasSuffix(path, ".faa"):
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return parseFastaQueries(string(payload), stem)
	default:
		return nil, fmt.Errorf("unsupported input file %s", path)
	}
}

func parseFastaQueries(text, stem string) ([]Query, error) {
	seqs, headers := msa.ParseFasta(text)
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no fasta records in %s", stem)
	}
	var queries []Query
	for i, seq := range seqs {
		name := headerToName(headers[i])
		if name == "" {
			name = stem
			if len(seqs) > 1 {
				name = fmt.Sprintf("%s_%d", stem, i)
			}
		}
		queries = append(queries, Query{
			Name:      name,
			Sequences: splitChains(seq),
		})
	}
	return queries, nil
}

func headerToName(header string) string {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return ""
	}
	return util.SafeFilename(fields[0])
}

// splitChains turns "SEQA:SEQB" into its chain list, normalized to upper
// case with stray whitespace dropped.
func splitChains(raw string) []string {
	var chains []string
	for _, part := range strings.Split(raw, ":") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			chains = append(chains, part)
		}
	}
	return chains
}

func readA3MQuery(path string) (*Query, error) {
	var text string
	var err error
	if strings.HasSuffix(path, ".xz") {
		var payload []byte
		payload, err = ReadXZ(path)
		text = string(payload)
	} else {
		var payload []byte
		payload, err = os.ReadFile(path)
		text = string(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".xz")
	name = strings.TrimSuffix(name, ".a3m")

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "#") {
		m, err := msa.Unserialize(text, nil)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		var chains []string
		for i, seq := range m.UniqueSequences {
			for c := 0; c < m.Cardinality[i]; c++ {
				chains = append(chains, seq)
			}
		}
		return &Query{Name: name, Sequences: chains, A3MLines: text}, nil
	}

	seqs, _ := msa.ParseFasta(text)
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no records in %s", path)
	}
	return &Query{Name: name, Sequences: []string{seqs[0]}, A3MLines: text}, nil
}

func readTableQueries(path string) ([]Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if strings.HasSuffix(path, ".tsv") {
		r.Comma = '\t'
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s has no data rows", path)
	}

	idCol, seqCol := -1, -1
	for i, col := range records[0] {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "id":
			idCol = i
		case "sequence":
			seqCol = i
		}
	}
	if idCol < 0 || seqCol < 0 {
		return nil, fmt.Errorf("%s is missing the id/sequence columns", path)
	}

	var queries []Query
	for _, row := range records[1:] {
		if len(row) <= idCol || len(row) <= seqCol {
			continue
		}
		name := util.SafeFilename(strings.TrimSpace(row[idCol]))
		chains := splitChains(row[seqCol])
		if name == "" || len(chains) == 0 {
			continue
		}
		queries = append(queries, Query{Name: name, Sequences: chains})
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no usable rows in %s", path)
	}
	return queries, nil
}
