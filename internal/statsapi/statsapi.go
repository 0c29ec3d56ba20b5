// Package statsapi exposes aggregate dispatch counters for the resolver
// core: how many queries were handled, which upstream answered each one,
// and how many candidate answers the rule engine dropped. It never records
// query or answer content, only counts, matching the ambient metrics
// surface the rest of this lineage carries alongside the core resolver.
package statsapi

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
)

// Counters is a process-wide, concurrency-safe set of aggregate dispatch
// counters. The zero value is ready to use; a nil *Counters is also safe to
// call every method on and simply does nothing, so wiring it into a
// Handler is optional.
type Counters struct {
	mu sync.Mutex

	queries int64
	drops   int64
	winsBy  map[string]int64
}

// New returns an empty Counters.
func New() *Counters {
	return &Counters{winsBy: make(map[string]int64)}
}

// IncrementQuery records one inbound query handled, regardless of outcome.
func (c *Counters) IncrementQuery() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
}

// IncrementWin records that upstream produced the answer a request
// ultimately received.
func (c *Counters) IncrementWin(upstream string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.winsBy == nil {
		c.winsBy = make(map[string]int64)
	}
	c.winsBy[upstream]++
}

// IncrementDrop records one candidate answer rejected by the response
// rules, independent of which upstream produced it.
func (c *Counters) IncrementDrop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops++
}

// Snapshot is the JSON-serializable shape returned by GET /stats and
// written to disk by Save.
type Snapshot struct {
	Queries int64            `json:"queries"`
	Drops   int64            `json:"drops"`
	WinsBy  map[string]int64 `json:"wins_by_upstream"`
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{WinsBy: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	wins := make(map[string]int64, len(c.winsBy))
	for k, v := range c.winsBy {
		wins[k] = v
	}
	return Snapshot{Queries: c.queries, Drops: c.drops, WinsBy: wins}
}

// Save writes the current snapshot to path as pretty-printed JSON.
func (c *Counters) Save(path string) error {
	if c == nil {
		return nil
	}
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return errors.Annotate(err, "statsapi: marshaling snapshot: %w")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Annotate(err, "statsapi: writing %q: %w", path)
	}
	return nil
}

// Load restores counters from a snapshot previously written by Save. A
// missing file is not an error: counters simply start from zero.
func (c *Counters) Load(path string) error {
	if c == nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Annotate(err, "statsapi: reading %q: %w", path)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Annotate(err, "statsapi: parsing %q: %w", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = snap.Queries
	c.drops = snap.Drops
	c.winsBy = make(map[string]int64, len(snap.WinsBy))
	for k, v := range snap.WinsBy {
		c.winsBy[k] = v
	}
	return nil
}

// FlushPeriodic saves the current snapshot to path, logging but not
// returning on failure. It is meant to be called on a gocron schedule.
func (c *Counters) FlushPeriodic(path string) {
	if err := c.Save(path); err != nil {
		log.Error("statsapi: periodic flush to %q failed: %v", path, err)
	}
}
