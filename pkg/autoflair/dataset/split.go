// Package dataset partitions extracted records and encodes them for training.
package dataset

import (
	"math/rand/v2"
)

// TestFraction is the held-out share: floor(n/10) items.
const TestFraction = 10

// NewRand returns a seeded source for reproducible splits.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Split holds out floor(len(items)/10) items sampled without replacement.
// The remaining items form the training set in their original order.
// With a nil rng the sample is nondeterministic.
func Split[T any](items []T, rng *rand.Rand) (train, test []T) {
	n := len(items)
	k := n / TestFraction

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	// partial Fisher-Yates: perm[:k] is a uniform sample
	for i := 0; i < k; i++ {
		j := i + intN(rng, n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}

	held := make([]bool, n)
	test = make([]T, 0, k)
	for _, idx := range perm[:k] {
		held[idx] = true
		test = append(test, items[idx])
	}

	train = make([]T, 0, n-k)
	for i, it := range items {
		if !held[i] {
			train = append(train, it)
		}
	}
	return train, test
}

func intN(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.IntN(n)
	}
	return rng.IntN(n)
}
