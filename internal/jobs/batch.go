package jobs

import "time"

// batchSizer adapts the per-batch window count toward a target wall-clock
// duration: fast batches grow, slow batches shrink, always within
// [min, max]. The step is proportional to target/observed but bounded to
// half/double per adjustment so one outlier batch cannot whiplash the size.
type batchSizer struct {
	min    int
	max    int
	target time.Duration
	size   int
}

func newBatchSizer(min, max int, target time.Duration) *batchSizer {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if target <= 0 {
		target = 2 * time.Second
	}
	return &batchSizer{min: min, max: max, target: target, size: min}
}

func (b *batchSizer) current() int { return b.size }

// observe feeds one completed batch's duration and returns the next size.
func (b *batchSizer) observe(elapsed time.Duration) int {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	ratio := float64(b.target) / float64(elapsed)
	if ratio > 2 {
		ratio = 2
	}
	if ratio < 0.5 {
		ratio = 0.5
	}

	next := int(float64(b.size) * ratio)
	if next < b.min {
		next = b.min
	}
	if next > b.max {
		next = b.max
	}
	b.size = next
	return next
}
