package msa

import (
	"regexp"
	"strconv"
	"strings"
)

// ChainRegion is a 1-based inclusive residue range of one chain. End ==
// WholeChain means the chain is used in full.
type ChainRegion struct {
	Start int
	End   int
}

var chainNameSep = regexp.MustCompile(`[^0-9]-[^0-9]|__`)

// ParseChainRegions extracts per-chain crop ranges from job names of the
// form "DPOLQ_HUMAN.1-500.__MSH3_HUMAN__1637aa": a chain component carrying
// ".start-end." restricts that chain to the given range. The second return
// is false when the name does not encode one region per chain, in which
// case no cropping applies.
func ParseChainRegions(jobname string, seqs []string) ([]ChainRegion, bool) {
	comps := chainNameSep.Split(jobname, -1)
	if len(comps)-1 != len(seqs) {
		return nil, false
	}

	regions := make([]ChainRegion, 0, len(seqs))
	for i := 0; i < len(comps)-1; i++ {
		c := comps[i]
		if !strings.Contains(c, ".") {
			regions = append(regions, ChainRegion{Start: 1, End: WholeChain})
			continue
		}
		parts := strings.Split(c, ".")
		if len(parts) < 2 {
			return nil, false
		}
		bounds := strings.Split(parts[1], "-")
		if len(bounds) != 2 {
			return nil, false
		}
		start, err1 := strconv.Atoi(bounds[0])
		end, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return nil, false
		}
		if start < 1 || end < start || end > len(seqs[i]) {
			return nil, false
		}
		regions = append(regions, ChainRegion{Start: start, End: end})
	}
	return regions, true
}

// CropToRegion applies the chain's region to its sequence. The index is
// explicit so callers never rely on surrounding loop state.
func CropToRegion(seqs []string, regions []ChainRegion, index int) string {
	seq := seqs[index]
	if regions == nil || index >= len(regions) {
		return seq
	}
	r := regions[index]
	if r.End == WholeChain {
		return seq
	}
	return seq[r.Start-1 : r.End]
}
