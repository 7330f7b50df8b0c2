package features

import (
	"fmt"

	"github.com/ernst-schmid/foldpipe/pkg/msa"
)

// FeatureMap is one job's (or one chain's) numeric features keyed by name.
type FeatureMap map[string]*Tensor

// ParseA3M converts alignment text into the residue-id matrix and deletion
// matrix the model consumes. Lower-case insert characters do not occupy a
// column; they feed the deletion count of the following match column.
func ParseA3M(text string) (ids *Tensor, deletions *Tensor, err error) {
	seqs, _ := msa.ParseFasta(text)
	if len(seqs) == 0 {
		return nil, nil, fmt.Errorf("alignment has no records")
	}

	width := matchColumns(seqs[0])
	ids = NewTensor(len(seqs), width)
	deletions = NewTensor(len(seqs), width)
	for n, seq := range seqs {
		col := 0
		pending := 0
		for i := 0; i < len(seq); i++ {
			c := seq[i]
			if c >= 'a' && c <= 'z' {
				pending++
				continue
			}
			if col >= width {
				return nil, nil, fmt.Errorf("alignment row %d wider than query (%d columns)", n, width)
			}
			ids.Set(float32(residueID(c)), n, col)
			deletions.Set(float32(pending), n, col)
			pending = 0
			col++
		}
		if col != width {
			return nil, nil, fmt.Errorf("alignment row %d has %d columns, want %d", n, col, width)
		}
	}
	return ids, deletions, nil
}

func matchColumns(seq string) int {
	n := 0
	for i := 0; i < len(seq); i++ {
		if seq[i] >= 'a' && seq[i] <= 'z' {
			continue
		}
		n++
	}
	return n
}

// BuildMonomerFeature gathers sequence, alignment and template features for
// one chain.
func BuildMonomerFeature(sequence string, a3mText string, tmpl *TemplateFeature) (FeatureMap, error) {
	ids, deletions, err := ParseA3M(a3mText)
	if err != nil {
		return nil, fmt.Errorf("parse alignment: %w", err)
	}
	if ids.Dim(1) != len(sequence) {
		return nil, fmt.Errorf("alignment width %d does not match query length %d", ids.Dim(1), len(sequence))
	}

	ln := len(sequence)
	aatype := NewTensor(ln)
	residueIndex := NewTensor(ln)
	for i := 0; i < ln; i++ {
		aatype.Set(float32(residueID(sequence[i])), i)
		residueIndex.Set(float32(i), i)
	}

	fm := FeatureMap{
		"aatype":          aatype,
		"residue_index":   residueIndex,
		"seq_length":      Scalar(float32(ln)),
		"msa":             ids,
		"deletion_matrix": deletions,
		"num_alignments":  Scalar(float32(ids.Dim(0))),
	}
	if tmpl != nil {
		fm["template_all_atom_positions"] = tmpl.AtomPositions
		fm["template_all_atom_masks"] = tmpl.AtomMasks
		fm["template_aatype"] = tmpl.AAType
		fm["template_confidence_scores"] = tmpl.ConfidenceScores
	}
	return fm, nil
}

// BuildPairedFeature parses a paired alignment block into the "_all_seq"
// feature variants used by the multimer merge.
func BuildPairedFeature(a3mText string) (FeatureMap, error) {
	ids, deletions, err := ParseA3M(a3mText)
	if err != nil {
		return nil, fmt.Errorf("parse paired alignment: %w", err)
	}
	return FeatureMap{
		"msa_all_seq":             ids,
		"deletion_matrix_all_seq": deletions,
		"num_alignments_all_seq":  Scalar(float32(ids.Dim(0))),
	}, nil
}
