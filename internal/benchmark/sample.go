package benchmark

import (
	"math/rand/v2"
	"sort"
)

// StratifiedSample draws up to n questions spread evenly across subjects.
// Subjects are visited in sorted order and receive quota round-robin, so a
// subject with too few questions passes its share on to the others. The
// result is deterministic for a given seed and keeps dataset order.
func StratifiedSample(questions []Question, n int, seed int64) []Question {
	if n <= 0 || len(questions) == 0 {
		return nil
	}
	if n >= len(questions) {
		return append([]Question(nil), questions...)
	}

	bySubject := make(map[string][]int)
	for i, q := range questions {
		bySubject[q.Subject] = append(bySubject[q.Subject], i)
	}
	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	quota := make(map[string]int, len(subjects))
	for allocated := 0; allocated < n; {
		for _, s := range subjects {
			if allocated == n {
				break
			}
			if quota[s] < len(bySubject[s]) {
				quota[s]++
				allocated++
			}
		}
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	var picked []int
	for _, s := range subjects {
		idx := bySubject[s]
		perm := rng.Perm(len(idx))
		for _, p := range perm[:quota[s]] {
			picked = append(picked, idx[p])
		}
	}
	sort.Ints(picked)

	out := make([]Question, len(picked))
	for i, p := range picked {
		out[i] = questions[p]
	}
	return out
}
