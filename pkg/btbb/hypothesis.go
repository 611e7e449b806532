package btbb

import "iter"

// FHSClockHypotheses yields the clocks tried when dewhitening an FHS payload:
// the nominal clock first, then every 6-bit clock with the top bit set.
// FHS packets are often sent in response to inquiry, when the slave's clock
// bits differ from the piconet clock.
func FHSClockHypotheses(nominal uint32) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		if !yield(nominal) {
			return
		}
		for clock := uint32(32); clock < 64; clock++ {
			if clock == nominal {
				continue
			}
			if !yield(clock) {
				return
			}
		}
	}
}

// ClockHypotheses yields every 6-bit clock value, the only clock bits that
// affect whitening
func ClockHypotheses() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for clock := uint32(0); clock < 64; clock++ {
			if !yield(clock) {
				return
			}
		}
	}
}
