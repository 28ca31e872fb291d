package world

type StatsBucket struct {
	Inserts         int `json:"inserts"`
	Removes         int `json:"removes"`
	Refused         int `json:"refused"`
	CapacityFull    int `json:"capacity_full"`
	InvariantFaults int `json:"invariant_faults"`
	Picks           int `json:"picks"`
	Misses          int `json:"misses"`
	Respawns        int `json:"respawns"`
}

func (b *StatsBucket) add(o StatsBucket) {
	b.Inserts += o.Inserts
	b.Removes += o.Removes
	b.Refused += o.Refused
	b.CapacityFull += o.CapacityFull
	b.InvariantFaults += o.InvariantFaults
	b.Picks += o.Picks
	b.Misses += o.Misses
	b.Respawns += o.Respawns
}

// WorldStats keeps a rolling window of per-bucket counters plus lifetime totals.
type WorldStats struct {
	bucketTicks uint64
	windowTicks uint64

	buckets []StatsBucket
	curIdx  int
	curBase uint64 // start tick (inclusive) of current bucket

	totals StatsBucket
}

func NewWorldStats(bucketTicks, windowTicks uint64) *WorldStats {
	if bucketTicks == 0 {
		bucketTicks = 300
	}
	if windowTicks < bucketTicks {
		windowTicks = bucketTicks
	}
	n := int(windowTicks / bucketTicks)
	return &WorldStats{
		bucketTicks: bucketTicks,
		windowTicks: uint64(n) * bucketTicks,
		buckets:     make([]StatsBucket, n),
	}
}

func (s *WorldStats) rotate(nowTick uint64) {
	if s == nil {
		return
	}
	// Move forward until nowTick is in [curBase, curBase+bucketTicks).
	for nowTick >= s.curBase+s.bucketTicks {
		s.curIdx = (s.curIdx + 1) % len(s.buckets)
		s.buckets[s.curIdx] = StatsBucket{}
		s.curBase += s.bucketTicks
	}
}

// Record applies fn to the current bucket and to the totals.
func (s *WorldStats) Record(nowTick uint64, fn func(b *StatsBucket)) {
	if s == nil {
		return
	}
	s.rotate(nowTick)
	var d StatsBucket
	fn(&d)
	s.buckets[s.curIdx].add(d)
	s.totals.add(d)
}

func (s *WorldStats) WindowTicks() uint64 {
	if s == nil {
		return 0
	}
	return s.windowTicks
}

func (s *WorldStats) Summarize(nowTick uint64) StatsBucket {
	if s == nil {
		return StatsBucket{}
	}
	s.rotate(nowTick)
	var out StatsBucket
	for _, b := range s.buckets {
		out.add(b)
	}
	return out
}

func (s *WorldStats) Totals() StatsBucket {
	if s == nil {
		return StatsBucket{}
	}
	return s.totals
}
