package model

import (
	"math/rand"

	"github.com/ktrdr/ktrdr/pkg/types"
)

// PermutationImportance computes, for each feature column, the drop in
// validation accuracy when that column is independently shuffled — the
// post-hoc feature-importance estimate persisted with the model artifact.
func PermutationImportance(net *Network, columns []string, valX [][]float64, valY []types.Direction, seed int64) map[string]float64 {
	result := make(map[string]float64, len(columns))
	if len(valX) == 0 {
		for _, c := range columns {
			result[c] = 0
		}
		return result
	}

	rng := rand.New(rand.NewSource(seed))
	baseline := accuracyOf(net, valX, valY)

	for col, name := range columns {
		shuffled := shuffleColumn(valX, col, rng)
		acc := accuracyOf(net, shuffled, valY)
		result[name] = baseline - acc
	}
	return result
}

func accuracyOf(net *Network, X [][]float64, y []types.Direction) float64 {
	mx := toMat(X)
	probs := net.Predict(mx)
	rows, _ := probs.Dims()
	if rows == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < rows; i++ {
		argmax := 0
		best := probs.At(i, 0)
		for j := 1; j < 3; j++ {
			if probs.At(i, j) > best {
				best = probs.At(i, j)
				argmax = j
			}
		}
		if types.Direction(argmax) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

func shuffleColumn(X [][]float64, col int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		cp := append([]float64(nil), row...)
		out[i] = cp
	}
	perm := rng.Perm(len(out))
	vals := make([]float64, len(out))
	for i, row := range out {
		vals[i] = row[col]
	}
	for i := range out {
		out[i][col] = vals[perm[i]]
	}
	return out
}
