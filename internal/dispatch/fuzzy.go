package dispatch

import "github.com/fakeyudi/vidnote/internal/annotation"

// DefaultFuzzyTolerance is the seek tolerance used when none is configured.
const DefaultFuzzyTolerance uint64 = 500

// Nearest returns every live annotation sharing the TimeMs closest to
// positionMs, provided that distance is at most toleranceMs. When two
// instants are equally close the earlier one wins. The result keeps the
// order of list.
func Nearest(list []annotation.Annotation, positionMs, toleranceMs uint64) []annotation.Annotation {
	var (
		best  uint64
		dist  uint64
		found bool
	)
	for _, a := range list {
		if !a.Alive {
			continue
		}
		d := distance(a.TimeMs, positionMs)
		if d > toleranceMs {
			continue
		}
		if !found || d < dist || (d == dist && a.TimeMs < best) {
			best, dist, found = a.TimeMs, d, true
		}
	}
	if !found {
		return nil
	}

	var batch []annotation.Annotation
	for _, a := range list {
		if a.Alive && a.TimeMs == best {
			batch = append(batch, a)
		}
	}
	return batch
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
