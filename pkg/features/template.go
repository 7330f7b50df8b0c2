package features

import "encoding/json"

const (
	// NumAtomTypes is the size of the fixed all-atom layout.
	NumAtomTypes = 37
	// NumTemplateAATypes is the width of the one-hot residue encoding used
	// by template features (20 amino acids, unknown, gap).
	NumTemplateAATypes = 22

	// NoTemplateName marks a template slot with no structural hit.
	NoTemplateName = "none"
)

// hhblitsAAToID maps residue letters onto the HHblits id convention.
// Ambiguity codes collapse onto their canonical residue, anything unknown
// is X (20) and '-' is the gap id (21).
var hhblitsAAToID = map[byte]int{
	'A': 0, 'B': 2, 'C': 1, 'D': 2, 'E': 3, 'F': 4, 'G': 5, 'H': 6,
	'I': 7, 'J': 20, 'K': 8, 'L': 9, 'M': 10, 'N': 11, 'O': 20, 'P': 12,
	'Q': 13, 'R': 14, 'S': 15, 'T': 16, 'U': 1, 'V': 17, 'W': 18, 'X': 20,
	'Y': 19, 'Z': 3, '-': 21,
}

// GapID is the residue id of an alignment gap.
const GapID = 21

func residueID(c byte) int {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if id, ok := hhblitsAAToID[c]; ok {
		return id
	}
	return 20
}

// TemplateFeature is the fixed-shape numeric bundle describing structural
// hits for one chain. A mock instance (all zero positions, domain name
// "none") is a valid terminal value meaning no template was found.
type TemplateFeature struct {
	AtomPositions    *Tensor   `json:"template_all_atom_positions"` // [T, L, NumAtomTypes, 3]
	AtomMasks        *Tensor   `json:"template_all_atom_masks"`     // [T, L, NumAtomTypes]
	AAType           *Tensor   `json:"template_aatype"`             // [T, L, NumTemplateAATypes]
	ConfidenceScores *Tensor   `json:"template_confidence_scores"`  // [T, L]
	SumProbs         []float32 `json:"template_sum_probs"`          // [T]
	Sequences        []string  `json:"template_sequence"`
	DomainNames      []string  `json:"template_domain_names"`
	ReleaseDates     []string  `json:"template_release_date"`
}

// Mock builds the placeholder template for a query with no structural hit:
// zeroed positions and masks, poly-alanine one-hot residues, full
// confidence and the "none" domain marker.
func Mock(sequence string) *TemplateFeature {
	ln := len(sequence)
	aatype := NewTensor(1, ln, NumTemplateAATypes)
	for i := 0; i < ln; i++ {
		aatype.Set(1, 0, i, hhblitsAAToID['A'])
	}
	confidence := NewTensor(1, ln)
	for i := 0; i < ln; i++ {
		confidence.Set(1, 0, i)
	}
	return &TemplateFeature{
		AtomPositions:    NewTensor(1, ln, NumAtomTypes, 3),
		AtomMasks:        NewTensor(1, ln, NumAtomTypes),
		AAType:           aatype,
		ConfidenceScores: confidence,
		SumProbs:         make([]float32, 1),
		Sequences:        []string{NoTemplateName},
		DomainNames:      []string{NoTemplateName},
		ReleaseDates:     []string{NoTemplateName},
	}
}

// NumTemplates returns the template count T.
func (f *TemplateFeature) NumTemplates() int {
	return f.AAType.Dim(0)
}

// NumResidues returns the residue count L, derived from the one-hot shape.
// The cache layer validates stored entries against the requesting sequence
// through this value.
func (f *TemplateFeature) NumResidues() int {
	return f.AAType.Dim(1)
}

// HasRealTemplates reports whether any slot holds an actual structural hit.
func (f *TemplateFeature) HasRealTemplates() bool {
	for _, name := range f.DomainNames {
		if name != NoTemplateName {
			return true
		}
	}
	return false
}

// RealDomainNames lists the non-placeholder template identifiers.
func (f *TemplateFeature) RealDomainNames() []string {
	var names []string
	for _, name := range f.DomainNames {
		if name != NoTemplateName {
			names = append(names, name)
		}
	}
	return names
}

// CropTemplates keeps at most n template slots.
func (f *TemplateFeature) CropTemplates(n int) *TemplateFeature {
	if f.NumTemplates() <= n {
		return f
	}
	crop := func(xs []string) []string {
		if len(xs) > n {
			return xs[:n]
		}
		return xs
	}
	probs := f.SumProbs
	if len(probs) > n {
		probs = probs[:n]
	}
	return &TemplateFeature{
		AtomPositions:    f.AtomPositions.CropRows(n),
		AtomMasks:        f.AtomMasks.CropRows(n),
		AAType:           f.AAType.CropRows(n),
		ConfidenceScores: f.ConfidenceScores.CropRows(n),
		SumProbs:         probs,
		Sequences:        crop(f.Sequences),
		DomainNames:      crop(f.DomainNames),
		ReleaseDates:     crop(f.ReleaseDates),
	}
}

// EncodeTemplate serializes a template feature for the on-disk store.
func EncodeTemplate(f *TemplateFeature) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeTemplate parses a stored template payload.
func DecodeTemplate(payload []byte) (*TemplateFeature, error) {
	var f TemplateFeature
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Featurizer turns an alignment plus a structural hit location into real
// template features. The concrete implementation lives outside this
// pipeline (it wraps the structure search toolchain); a nil Featurizer
// means mock templates everywhere.
type Featurizer interface {
	Features(a3mText string, templatePath string, querySequence string) (*TemplateFeature, error)
}
