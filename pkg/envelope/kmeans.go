package envelope

import (
	"math"
	"math/rand"
)

// kmeans partitions the vectors into k clusters by Lloyd's algorithm with
// k-means++ seeding. Returns the centroids. Deterministic for a given seed.
//
// Input vectors must all share the same dimensionality. If fewer vectors than
// clusters are supplied, every vector becomes its own centroid.
func kmeans(vectors [][]float64, k int, maxIter int, seed int64) [][]float64 {
	if len(vectors) == 0 || k <= 0 {
		return nil
	}
	if k >= len(vectors) {
		out := make([][]float64, len(vectors))
		for i, v := range vectors {
			out[i] = append([]float64(nil), v...)
		}
		return out
	}
	if maxIter <= 0 {
		maxIter = 100
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := seedPlusPlus(vectors, k, rng)

	dim := len(vectors[0])
	assign := make([]int, len(vectors))

	for iter := 0; iter < maxIter; iter++ {
		moved := false
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for j, c := range centroids {
				if d := sqDist(v, c); d < bestDist {
					best, bestDist = j, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				moved = true
			}
		}
		if iter > 0 && !moved {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for j := range sums {
			sums[j] = make([]float64, dim)
		}
		for i, v := range vectors {
			j := assign[i]
			counts[j]++
			for d, x := range v {
				sums[j][d] += x
			}
		}
		for j := range centroids {
			if counts[j] == 0 {
				// Empty cluster: reseed from a random vector so k is preserved.
				centroids[j] = append([]float64(nil), vectors[rng.Intn(len(vectors))]...)
				continue
			}
			for d := range centroids[j] {
				centroids[j][d] = sums[j][d] / float64(counts[j])
			}
		}
	}

	return centroids
}

// seedPlusPlus picks initial centroids with probability proportional to the
// squared distance from the nearest already-chosen centroid.
func seedPlusPlus(vectors [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := vectors[rng.Intn(len(vectors))]
	centroids = append(centroids, append([]float64(nil), first...))

	dists := make([]float64, len(vectors))
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(v, c); d < best {
					best = d
				}
			}
			dists[i] = best
			total += best
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, append([]float64(nil), vectors[rng.Intn(len(vectors))]...))
			continue
		}
		target := rng.Float64() * total
		var acc float64
		pick := len(vectors) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), vectors[pick]...))
	}
	return centroids
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i, v := range a {
		d := v - b[i]
		sum += d * d
	}
	return sum
}
