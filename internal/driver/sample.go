package driver

import "math/rand/v2"

// sampleDistinct returns k distinct indexes from [0, n) in random order.
// k is capped at n. It runs in O(k) time and space, independent of n.
func sampleDistinct(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	// Floyd's algorithm.
	picked := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for j := n - k; j < n; j++ {
		t := rng.IntN(j + 1)
		if _, ok := picked[t]; ok {
			t = j
		}
		picked[t] = struct{}{}
		out = append(out, t)
	}

	rng.Shuffle(len(out), func(a, b int) {
		out[a], out[b] = out[b], out[a]
	})
	return out
}
