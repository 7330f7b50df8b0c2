package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// FoldIDs hands out one stable fold id per job name for the lifetime of a
// run. The id ties together everything a job produces: the alignment
// file's metadata record, the score files and the ledger row.
type FoldIDs struct {
	mu  sync.Mutex
	ids map[string]string
}

func NewFoldIDs() *FoldIDs {
	return &FoldIDs{ids: make(map[string]string)}
}

// Get returns the job's fold id, minting one on first use.
func (f *FoldIDs) Get(job string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.ids[job]
	if !ok {
		id = uuid.New().String()
		f.ids[job] = id
	}
	return id
}
