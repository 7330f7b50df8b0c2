package features

import (
	"fmt"

	"github.com/ernst-schmid/foldpipe/pkg/msa"
)

const (
	// MSACropSize bounds per-chain alignment depth before merging.
	MSACropSize = 2048
	// MaxTemplates bounds per-chain template depth before merging.
	MaxTemplates = 4
)

// AssembleMonomer builds the feature set for one single-copy chain against
// a single-chain model: the chain's own alignment plus its fetched
// template, with no assembly features.
func AssembleMonomer(sequence string, unpaired string, tmpl *TemplateFeature) (FeatureMap, error) {
	a3mText := unpaired
	if a3mText == "" {
		a3mText = fmt.Sprintf(">0\n%s\n", sequence)
	}
	if tmpl == nil {
		tmpl = Mock(sequence)
	}
	return BuildMonomerFeature(sequence, a3mText, tmpl)
}

// AssembleLinear builds the feature set for the ptm-complex path: all
// chains are concatenated into one linear sequence,
// residue indices restart per segment and each segment carries its own
// asym id. Templates are disabled on this path, since a template spanning
// chain boundaries is not meaningful.
func AssembleLinear(unique []string, cardinality []int, paired, unpaired []string) (FeatureMap, error) {
	full := ""
	var lengths []int
	for i, seq := range unique {
		for c := 0; c < cardinality[i]; c++ {
			full += seq
			lengths = append(lengths, len(seq))
		}
	}

	body, err := msa.Combine(unique, cardinality, paired, unpaired)
	if err != nil {
		return nil, err
	}
	a3mText := fmt.Sprintf(">0\n%s\n%s", full, body)

	fm, err := BuildMonomerFeature(full, a3mText, Mock(full))
	if err != nil {
		return nil, err
	}

	residueIndex := NewTensor(len(full))
	asymID := NewTensor(len(full))
	pos := 0
	for n, l := range lengths {
		for i := 0; i < l; i++ {
			residueIndex.Set(float32(i), pos)
			asymID.Set(float32(n), pos)
			pos++
		}
	}
	fm["residue_index"] = residueIndex
	fm["asym_id"] = asymID
	return fm, nil
}

// AssembleMultimer builds the merged multimer feature set: one monomer
// block per chain copy plus, for true complexes, the paired "_all_seq"
// block, combined by assembly-feature augmentation, depth padding and
// cropping, key intersection and a final merge that keeps a non-zero extra
// alignment dimension.
func AssembleMultimer(unique []string, cardinality []int, unpaired, paired []string,
	templates []*TemplateFeature, isComplex bool, maxSeq int) (FeatureMap, error) {

	if len(templates) != len(unique) {
		return nil, fmt.Errorf("have %d template sets for %d unique chains", len(templates), len(unique))
	}

	var chains []FeatureMap
	chainIndex := 0
	for i, seq := range unique {
		inputMSA := fmt.Sprintf(">%d\n%s", 101+i, seq)
		if unpaired != nil && unpaired[i] != "" {
			inputMSA = unpaired[i]
		}
		tmpl := templates[i]
		if tmpl == nil {
			tmpl = Mock(seq)
		}
		base, err := BuildMonomerFeature(seq, inputMSA, tmpl.CropTemplates(MaxTemplates))
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", i, err)
		}

		if isComplex {
			pairedMSA := fmt.Sprintf(">%d\n%s", 101+i, seq)
			if paired != nil && paired[i] != "" {
				pairedMSA = paired[i]
			}
			pairedFeatures, err := BuildPairedFeature(pairedMSA)
			if err != nil {
				return nil, fmt.Errorf("chain %d: %w", i, err)
			}
			for k, v := range pairedFeatures {
				base[k] = v
			}
		}

		for c := 0; c < cardinality[i]; c++ {
			fm := make(FeatureMap, len(base)+3)
			for k, v := range base {
				fm[k] = v
			}
			ln := len(seq)
			fm["asym_id"] = fullTensor(ln, float32(chainIndex+1))
			fm["entity_id"] = fullTensor(ln, float32(i+1))
			fm["sym_id"] = fullTensor(ln, float32(c+1))
			chains = append(chains, fm)
			chainIndex++
		}
	}

	padAllSeqDepth(chains)
	cropChainDepth(chains)
	intersectKeys(chains)
	merged, err := mergeChains(chains)
	if err != nil {
		return nil, err
	}
	padMSA(merged, maxSeq+4)
	return merged, nil
}

func fullTensor(n int, v float32) *Tensor {
	t := NewTensor(n)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// padAllSeqDepth grows every chain's "_all_seq" variants to a common row
// count so the later horizontal merge never sees ragged blocks.
func padAllSeqDepth(chains []FeatureMap) {
	depth := 0
	for _, fm := range chains {
		if t, ok := fm["msa_all_seq"]; ok && t.Dim(0) > depth {
			depth = t.Dim(0)
		}
	}
	if depth == 0 {
		return
	}
	for _, fm := range chains {
		if t, ok := fm["msa_all_seq"]; ok {
			fm["msa_all_seq"] = t.PadRows(depth, GapID)
		}
		if t, ok := fm["deletion_matrix_all_seq"]; ok {
			fm["deletion_matrix_all_seq"] = t.PadRows(depth, 0)
		}
		if _, ok := fm["num_alignments_all_seq"]; ok {
			fm["num_alignments_all_seq"] = Scalar(float32(depth))
		}
	}
}

func cropChainDepth(chains []FeatureMap) {
	for _, fm := range chains {
		for _, key := range []string{"msa", "deletion_matrix", "msa_all_seq", "deletion_matrix_all_seq"} {
			if t, ok := fm[key]; ok {
				fm[key] = t.CropRows(MSACropSize)
			}
		}
		if t, ok := fm["msa"]; ok {
			fm["num_alignments"] = Scalar(float32(t.Dim(0)))
		}
	}
}

// intersectKeys drops any feature missing from at least one chain; a key
// present in a subset of chains would otherwise break the merge with a
// shape mismatch.
func intersectKeys(chains []FeatureMap) {
	if len(chains) == 0 {
		return
	}
	for key := range chains[0] {
		everywhere := true
		for _, fm := range chains[1:] {
			if _, ok := fm[key]; !ok {
				everywhere = false
				break
			}
		}
		if !everywhere {
			for _, fm := range chains {
				delete(fm, key)
			}
		}
	}
	for _, fm := range chains[1:] {
		for key := range fm {
			if _, ok := chains[0][key]; !ok {
				delete(fm, key)
			}
		}
	}
}

var perResidueKeys = map[string]bool{
	"aatype":        true,
	"residue_index": true,
	"asym_id":       true,
	"entity_id":     true,
	"sym_id":        true,
}

var templateKeys = map[string]bool{
	"template_all_atom_positions": true,
	"template_all_atom_masks":     true,
	"template_aatype":             true,
	"template_confidence_scores":  true,
}

func mergeChains(chains []FeatureMap) (FeatureMap, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("no chains to merge")
	}

	merged := make(FeatureMap)
	for key := range chains[0] {
		var ts []*Tensor
		for _, fm := range chains {
			ts = append(ts, fm[key])
		}
		switch {
		case perResidueKeys[key]:
			t, err := ConcatRows(ts...)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", key, err)
			}
			merged[key] = t
		case key == "msa":
			merged[key] = blockDiag(ts, GapID)
		case key == "deletion_matrix":
			merged[key] = blockDiag(ts, 0)
		case key == "msa_all_seq" || key == "deletion_matrix_all_seq":
			t, err := concatCols(ts)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", key, err)
			}
			merged[key] = t
		case templateKeys[key]:
			t, err := concatResidueAxis(ts)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", key, err)
			}
			merged[key] = t
		case key == "seq_length":
			total := float32(0)
			for _, t := range ts {
				total += t.Data[0]
			}
			merged[key] = Scalar(total)
		case key == "num_alignments" || key == "num_alignments_all_seq":
			// recomputed below from the merged matrices
		default:
			merged[key] = ts[0]
		}
	}

	if t, ok := merged["msa"]; ok {
		merged["num_alignments"] = Scalar(float32(t.Dim(0)))
	}
	if t, ok := merged["msa_all_seq"]; ok {
		merged["num_alignments_all_seq"] = Scalar(float32(t.Dim(0)))
	}
	return merged, nil
}

// blockDiag stacks [N_i, L_i] matrices so each block keeps its own rows and
// columns while every other chain's columns are filled with fill.
func blockDiag(ts []*Tensor, fill float32) *Tensor {
	rows, cols := 0, 0
	for _, t := range ts {
		rows += t.Dim(0)
		cols += t.Dim(1)
	}
	out := NewTensor(rows, cols)
	for i := range out.Data {
		out.Data[i] = fill
	}
	rowOff, colOff := 0, 0
	for _, t := range ts {
		for r := 0; r < t.Dim(0); r++ {
			for c := 0; c < t.Dim(1); c++ {
				out.Set(t.At(r, c), rowOff+r, colOff+c)
			}
		}
		rowOff += t.Dim(0)
		colOff += t.Dim(1)
	}
	return out
}

// concatCols joins equally deep [N, L_i] matrices side by side; row i of
// the output is the paired row i across all chains.
func concatCols(ts []*Tensor) (*Tensor, error) {
	rows := ts[0].Dim(0)
	cols := 0
	for _, t := range ts {
		if t.Dim(0) != rows {
			return nil, fmt.Errorf("paired depth mismatch: %d vs %d rows", t.Dim(0), rows)
		}
		cols += t.Dim(1)
	}
	out := NewTensor(rows, cols)
	colOff := 0
	for _, t := range ts {
		for r := 0; r < rows; r++ {
			for c := 0; c < t.Dim(1); c++ {
				out.Set(t.At(r, c), r, colOff+c)
			}
		}
		colOff += t.Dim(1)
	}
	return out, nil
}

// concatResidueAxis joins template tensors [T, L_i, ...] along the residue
// axis, first padding every chain to a common template count with empty
// slots.
func concatResidueAxis(ts []*Tensor) (*Tensor, error) {
	depth := 0
	for _, t := range ts {
		if t.Dim(0) > depth {
			depth = t.Dim(0)
		}
	}
	shape := append([]int(nil), ts[0].Shape...)
	shape[0] = depth
	shape[1] = 0
	for _, t := range ts {
		if len(t.Shape) != len(shape) {
			return nil, fmt.Errorf("template rank mismatch: %v", t.Shape)
		}
		shape[1] += t.Shape[1]
	}
	out := NewTensor(shape...)

	inner := 1
	for _, d := range shape[2:] {
		inner *= d
	}
	resOff := 0
	for _, t := range ts {
		padded := t.PadRows(depth, 0)
		l := padded.Dim(1)
		for slot := 0; slot < depth; slot++ {
			for r := 0; r < l; r++ {
				srcBase := (slot*l + r) * inner
				dstBase := (slot*shape[1] + resOff + r) * inner
				copy(out.Data[dstBase:dstBase+inner], padded.Data[srcBase:srcBase+inner])
			}
		}
		resOff += l
	}
	return out, nil
}

// padMSA guarantees a non-zero extra alignment dimension: when the merged
// alignment is not deeper than minRows, all-gap rows are appended.
func padMSA(fm FeatureMap, minRows int) {
	t, ok := fm["msa"]
	if !ok || t.Dim(0) >= minRows {
		return
	}
	fm["msa"] = t.PadRows(minRows, GapID)
	if d, ok := fm["deletion_matrix"]; ok {
		fm["deletion_matrix"] = d.PadRows(minRows, 0)
	}
	// num_alignments keeps the real row count so the padding stays "extra"
}
