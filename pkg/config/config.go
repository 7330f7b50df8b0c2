// Package config persists the run-level settings record. It is written
// once per batch run and re-read later, for example to annotate structure
// files with the settings that produced them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the record's name inside the result directory.
const FileName = "config.json"

// RunConfig captures every tunable of a batch run.
type RunConfig struct {
	NumQueries                int     `json:"num_queries"`
	UseTemplates              bool    `json:"use_templates"`
	NumRelax                  int     `json:"num_relax"`
	MsaMode                   string  `json:"msa_mode"`
	ModelType                 string  `json:"model_type"`
	NumModels                 int     `json:"num_models"`
	NumRecycles               int     `json:"num_recycles"`
	RecycleEarlyStopTolerance float64 `json:"recycle_early_stop_tolerance"`
	NumEnsemble               int     `json:"num_ensemble"`
	MaxSeq                    int     `json:"max_seq"`
	MaxExtraSeq               int     `json:"max_extra_seq"`
	NumSeeds                  int     `json:"num_seeds"`
	UseDropout                bool    `json:"use_dropout"`
	PairMode                  string  `json:"pair_mode"`
	PairStrategy              string  `json:"pairing_strategy"`
	HostURL                   string  `json:"host_url"`
	StopAtScore               float64 `json:"stop_at_score"`
	RandomSeed                int     `json:"random_seed"`
	KeepExistingResults       bool    `json:"keep_existing_results"`
	SortQueriesBy             string  `json:"sort_queries_by"`
	SaveAll                   bool    `json:"save_all"`
	ZipResults                bool    `json:"zip_results"`
	UserAgent                 string  `json:"user_agent"`
	Version                   string  `json:"version"`
}

// Save writes the record into dir as config.json.
func Save(dir string, cfg *RunConfig) error {
	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Load re-reads the record written by Save.
func Load(dir string) (*RunConfig, error) {
	path := filepath.Join(dir, FileName)
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg RunConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &cfg, nil
}
