package store

import "sort"

// txnBuffer holds the per-transaction read validation set and write buffer
// shared by all Transaction implementations.
type txnBuffer struct {
	// reads maps each key observed from committed state to the version it
	// was observed at (0 = observed absent). Only the first observation
	// counts; re-reads do not move the expected version.
	reads map[Key]int64
	// writes buffers Put calls until Commit.
	writes map[Key]map[string]any
	closed bool
}

func newTxnBuffer() *txnBuffer {
	return &txnBuffer{
		reads:  make(map[Key]int64),
		writes: make(map[Key]map[string]any),
	}
}

// observe records the committed version seen for key, keeping the first one.
func (b *txnBuffer) observe(key Key, version int64) {
	if _, ok := b.reads[key]; !ok {
		b.reads[key] = version
	}
}

// overlay returns the buffered write for key, if any.
func (b *txnBuffer) overlay(key Key) (map[string]any, bool) {
	v, ok := b.writes[key]
	return v, ok
}

// mergeScan overlays buffered writes for one partition onto committed
// records and applies ordering and bounds. Committed records must already be
// in ascending sort-key order.
func (b *txnBuffer) mergeScan(table, partition string, committed []*Record, opts ScanOptions) []*Record {
	merged := make(map[string]*Record, len(committed))
	for _, r := range committed {
		merged[r.Key.Sort] = r
	}
	for key, values := range b.writes {
		if key.Table != table || key.Partition != partition {
			continue
		}
		version := int64(1)
		if existing, ok := merged[key.Sort]; ok {
			version = existing.Version + 1
		}
		merged[key.Sort] = &Record{Key: key, Values: copyValues(values), Version: version}
	}

	sorts := make([]string, 0, len(merged))
	for s := range merged {
		if opts.StartSort != "" && s < opts.StartSort {
			continue
		}
		if opts.EndSort != "" && s > opts.EndSort {
			continue
		}
		sorts = append(sorts, s)
	}
	sort.Strings(sorts)
	if opts.Reverse {
		for i, j := 0, len(sorts)-1; i < j; i, j = i+1, j-1 {
			sorts[i], sorts[j] = sorts[j], sorts[i]
		}
	}

	out := make([]*Record, 0, len(sorts))
	for _, s := range sorts {
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
		out = append(out, merged[s])
	}
	return out
}

// validates reports whether current (0 = absent) is acceptable for key at
// commit time: a read key must be unchanged, a blind write must land on an
// absent key.
func (b *txnBuffer) validates(key Key, current int64) bool {
	if expected, ok := b.reads[key]; ok {
		return current == expected
	}
	return current == 0
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
