package envelope

import (
	"math"
	"math/rand"
	"testing"
)

func blob(rng *rand.Rand, n int, cx, cy, spread float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{cx + rng.NormFloat64()*spread, cy + rng.NormFloat64()*spread}
	}
	return out
}

func TestKMeans_SeparatesBlobs(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vectors := append(blob(rng, 100, 0, 0, 0.3), blob(rng, 100, 10, 10, 0.3)...)

	centroids := kmeans(vectors, 2, 100, 42)
	if len(centroids) != 2 {
		t.Fatalf("expected 2 centroids, got %d", len(centroids))
	}

	// Each blob center must have a centroid within a small radius.
	for _, center := range [][]float64{{0, 0}, {10, 10}} {
		best := math.Inf(1)
		for _, c := range centroids {
			if d := math.Sqrt(sqDist(center, c)); d < best {
				best = d
			}
		}
		if best > 0.5 {
			t.Errorf("no centroid near %v (nearest %.2f away)", center, best)
		}
	}
}

func TestKMeans_FewerVectorsThanClusters(t *testing.T) {
	vectors := [][]float64{{1, 1}, {2, 2}}
	centroids := kmeans(vectors, 8, 100, 42)
	if len(centroids) != 2 {
		t.Fatalf("expected one centroid per vector, got %d", len(centroids))
	}
}

func TestKMeans_EmptyInput(t *testing.T) {
	if got := kmeans(nil, 4, 100, 42); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := kmeans([][]float64{{1}}, 0, 100, 42); got != nil {
		t.Errorf("expected nil for k=0, got %v", got)
	}
}

func TestKMeans_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	vectors := append(blob(rng, 50, 0, 0, 1), blob(rng, 50, 5, 5, 1)...)

	a := kmeans(vectors, 3, 100, 7)
	b := kmeans(vectors, 3, 100, 7)

	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("same seed produced different centroids: %v vs %v", a, b)
			}
		}
	}
}

func TestKMeans_IdenticalPoints(t *testing.T) {
	vectors := make([][]float64, 20)
	for i := range vectors {
		vectors[i] = []float64{3, 3}
	}

	centroids := kmeans(vectors, 4, 100, 42)
	if len(centroids) != 4 {
		t.Fatalf("expected 4 centroids, got %d", len(centroids))
	}
	for _, c := range centroids {
		if c[0] != 3 || c[1] != 3 {
			t.Errorf("centroid drifted off the only point: %v", c)
		}
	}
}
