package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ernst-schmid/foldpipe/logger"
	"github.com/ernst-schmid/foldpipe/pkg/cache"
	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/msa"
	"github.com/ernst-schmid/foldpipe/pkg/search"
)

// MSA modes.
const (
	MsaModeUniRefEnv      = "mmseqs2_uniref_env"
	MsaModeUniRef         = "mmseqs2_uniref"
	MsaModeSingleSequence = "single_sequence"
)

// Pair modes.
const (
	PairModeUnpaired       = "unpaired"
	PairModePaired         = "paired"
	PairModeUnpairedPaired = "unpaired_paired"
)

// JobInputs is everything acquisition produces for one job: the alignment
// bundle and one template feature per unique chain.
type JobInputs struct {
	MSA       *msa.JobMSA
	Templates []*features.TemplateFeature
}

// Acquirer resolves a job's alignments and templates from the cache,
// falling back to the remote search service, and applies per-chain region
// cropping encoded in the job name.
type Acquirer struct {
	Client     search.Client
	Alignments *cache.AlignmentStore
	Templates  *cache.TemplateStore
	Featurizer features.Featurizer

	MsaMode      string
	PairMode     string
	UseTemplates bool
	HostURL      string
}

// FetchMSAAndTemplates acquires the inputs for one job. Cache mismatches
// count as misses; search failures are returned to the caller, which skips
// the job.
func (a *Acquirer) FetchMSAAndTemplates(ctx context.Context, jobname string, seqs []string) (*JobInputs, error) {
	unique, cardinality := msa.Unique(seqs)

	// map each unique chain back to its first position in the job, which
	// is where its crop region (if any) lives
	firstIdx := make([]int, len(unique))
	for i, u := range unique {
		for j, s := range seqs {
			if s == u {
				firstIdx[i] = j
				break
			}
		}
	}

	unpaired, templatePaths, err := a.fetchUnpaired(ctx, unique)
	if err != nil {
		return nil, err
	}

	var paired []string
	pairingOn := strings.Contains(a.PairMode, "paired") && a.MsaMode != MsaModeSingleSequence
	if pairingOn && len(unique) > 1 {
		paired, err = a.fetchPaired(ctx, unique)
		if err != nil {
			return nil, err
		}
	}

	tmpls := a.fetchTemplates(unique, unpaired, templatePaths)

	// region crop, taking each chain's range from the job name
	if regions, ok := msa.ParseChainRegions(jobname, seqs); ok {
		for i := range unique {
			r := regions[firstIdx[i]]
			if r.End == msa.WholeChain {
				continue
			}
			if unpaired != nil {
				unpaired[i] = msa.Crop(unpaired[i], r.Start, r.End, true)
			}
			if paired != nil {
				// keep empty rows so row correspondence across chains survives
				paired[i] = msa.Crop(paired[i], r.Start, r.End, false)
			}
			unique[i] = unique[i][r.Start-1 : r.End]
			if tmpls[i].NumResidues() != len(unique[i]) {
				tmpls[i] = features.Mock(unique[i])
			}
		}
	}

	// a homo-oligomer needs no paired search, each copy just contributes
	// its own pseudo-paired query block
	if pairingOn && len(unique) == 1 && cardinality[0] > 1 {
		paired = msa.HomoOligomerPaired(unique[0], cardinality[0])
	}

	return &JobInputs{
		MSA: &msa.JobMSA{
			Unpaired:        unpaired,
			Paired:          paired,
			UniqueSequences: unique,
			Cardinality:     cardinality,
		},
		Templates: tmpls,
	}, nil
}

// fetchUnpaired resolves the per-chain unpaired alignments, consulting the
// cache first and batching every miss into one search call. It also
// returns the template hit path per unique chain for chains that went
// through the search.
func (a *Acquirer) fetchUnpaired(ctx context.Context, unique []string) ([]string, []string, error) {
	templatePaths := make([]string, len(unique))

	if a.MsaMode == MsaModeSingleSequence {
		unpaired := make([]string, len(unique))
		for i, u := range unique {
			unpaired[i] = fmt.Sprintf(">%d\n%s\n", 101+i, u)
		}
		return unpaired, templatePaths, nil
	}
	if a.PairMode == PairModePaired && len(unique) > 1 {
		return nil, templatePaths, nil
	}

	unpaired := make([]string, len(unique))
	var missing []int
	for i, u := range unique {
		text, ok := a.Alignments.GetAlignment(u)
		if ok && a.templateCached(u) {
			unpaired[i] = text
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return unpaired, templatePaths, nil
	}

	seqs := make([]string, len(missing))
	for n, i := range missing {
		seqs[n] = unique[i]
	}
	resp, err := a.Client.Search(ctx, seqs, search.Options{
		UseEnv:       a.MsaMode == MsaModeUniRefEnv,
		UseTemplates: a.UseTemplates,
		HostURL:      a.HostURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unpaired search: %w", err)
	}
	if len(resp.A3MLines) != len(seqs) {
		return nil, nil, fmt.Errorf("unpaired search returned %d alignments for %d sequences", len(resp.A3MLines), len(seqs))
	}

	for n, i := range missing {
		unpaired[i] = resp.A3MLines[n]
		if err := a.Alignments.PutAlignment(unique[i], resp.A3MLines[n]); err != nil {
			logger.Warn(fmt.Sprintf("could not cache alignment for chain %d: %v", i, err))
		}
		if n < len(resp.TemplatePaths) {
			templatePaths[i] = resp.TemplatePaths[n]
		}
	}
	return unpaired, templatePaths, nil
}

// templateCached reports whether caches already hold everything the run
// needs for this chain; an alignment hit without a template entry still
// forces a search when templates are on.
func (a *Acquirer) templateCached(sequence string) bool {
	if !a.UseTemplates {
		return true
	}
	_, ok := a.Templates.GetTemplate(sequence)
	return ok
}

func (a *Acquirer) fetchPaired(ctx context.Context, unique []string) ([]string, error) {
	resp, err := a.Client.Search(ctx, unique, search.Options{
		UsePairing: true,
		HostURL:    a.HostURL,
	})
	if err != nil {
		return nil, fmt.Errorf("paired search: %w", err)
	}
	if len(resp.A3MLines) != len(unique) {
		return nil, fmt.Errorf("paired search returned %d alignments for %d chains", len(resp.A3MLines), len(unique))
	}
	return resp.A3MLines, nil
}

// fetchTemplates resolves one template feature per unique chain. Chains
// without usable hits get the mock placeholder, and that placeholder is
// cached too so repeat runs skip the template search.
func (a *Acquirer) fetchTemplates(unique, unpaired []string, templatePaths []string) []*features.TemplateFeature {
	tmpls := make([]*features.TemplateFeature, len(unique))
	for i, u := range unique {
		if !a.UseTemplates {
			tmpls[i] = features.Mock(u)
			continue
		}
		if f, ok := a.Templates.GetTemplate(u); ok {
			tmpls[i] = f
			continue
		}

		tmpls[i] = features.Mock(u)
		if a.Featurizer != nil && templatePaths[i] != "" {
			a3mText := ""
			if unpaired != nil {
				a3mText = unpaired[i]
			}
			f, err := a.Featurizer.Features(a3mText, templatePaths[i], u)
			if err != nil {
				logger.Warn(fmt.Sprintf("template featurization failed for chain %d, using mock: %v", i, err))
			} else {
				tmpls[i] = f
			}
		}
		if err := a.Templates.PutTemplate(u, tmpls[i]); err != nil {
			logger.Warn(fmt.Sprintf("could not cache template for chain %d: %v", i, err))
		}
	}
	return tmpls
}
