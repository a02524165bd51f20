package cache

import (
	"sync/atomic"
)

type counters struct {
	l1Hits        atomic.Int64
	l2Hits        atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	invalidations atomic.Int64
	tierErrors    atomic.Int64
	corrupt       atomic.Int64
	bytesSaved    atomic.Int64
}

// Stats is a point-in-time snapshot of cache activity since start.
type Stats struct {
	L1Hits         int64             `json:"l1Hits"`
	L2Hits         int64             `json:"l2Hits"`
	Misses         int64             `json:"misses"`
	Sets           int64             `json:"sets"`
	Invalidations  int64             `json:"invalidations"`
	TierErrors     int64             `json:"tierErrors"`
	CorruptEntries int64             `json:"corruptEntries"`
	BytesSaved     int64             `json:"compressedBytesSaved"`
	HitRate        float64           `json:"hitRate"`
	L1Size         int               `json:"l1Size"`
	L2Enabled      bool              `json:"l2Enabled"`
	L2Healthy      bool              `json:"l2Healthy"`
	Breakers       map[string]string `json:"breakers,omitempty"`
}

// Stats returns the current counters.
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		L1Hits:         o.stats.l1Hits.Load(),
		L2Hits:         o.stats.l2Hits.Load(),
		Misses:         o.stats.misses.Load(),
		Sets:           o.stats.sets.Load(),
		Invalidations:  o.stats.invalidations.Load(),
		TierErrors:     o.stats.tierErrors.Load(),
		CorruptEntries: o.stats.corrupt.Load(),
		BytesSaved:     o.stats.bytesSaved.Load(),
		L2Enabled:      o.l2 != nil,
		L2Healthy:      o.l2Available(),
	}

	if lookups := s.L1Hits + s.L2Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.L1Hits+s.L2Hits) / float64(lookups)
	}
	if sized, ok := o.l1.(interface{ Len() int }); ok {
		s.L1Size = sized.Len()
	}
	if o.breakers != nil {
		s.Breakers = o.breakers.States()
	}
	return s
}

func (o *Orchestrator) recordHit(tier string) {
	if tier == "l1" {
		o.stats.l1Hits.Add(1)
	} else {
		o.stats.l2Hits.Add(1)
	}
	o.metrics.Hit(tier)
}

func (o *Orchestrator) recordMiss(c Category) {
	o.stats.misses.Add(1)
	if c == "" {
		c = "uncategorized"
	}
	o.metrics.Miss(string(c))
}
