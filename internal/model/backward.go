package model

import (
	"math/rand"

	"github.com/ktrdr/ktrdr/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// clone returns a deep copy of the network's parameters, used to snapshot
// the best checkpoint seen during early stopping.
func (n *Network) clone() *Network {
	out := &Network{arch: n.arch}
	for i := range n.weights {
		w := mat.DenseCopyOf(n.weights[i])
		b := mat.DenseCopyOf(n.biases[i])
		out.weights = append(out.weights, w)
		out.biases = append(out.biases, b)
	}
	return out
}

// backwardStep performs one mini-batch gradient-descent update: a forward
// pass with dropout, cross-entropy gradient at the softmax output, and
// backpropagation through every hidden layer.
func (n *Network) backwardStep(X *mat.Dense, y []types.Direction, classWeights [3]float64, lr, weightDecay float64, rng *rand.Rand) {
	trace := n.forward(X, true, rng)
	batchSize, _ := trace.probs.Dims()

	delta := mat.DenseCopyOf(trace.probs)
	for i := 0; i < batchSize; i++ {
		label := int(y[i])
		w := classWeights[label]
		for j := 0; j < outputWidth; j++ {
			target := 0.0
			if j == label {
				target = 1.0
			}
			delta.Set(i, j, w*(delta.At(i, j)-target)/float64(batchSize))
		}
	}

	for l := len(n.weights) - 1; l >= 0; l-- {
		a := trace.activations[l] // input to layer l

		var gradW mat.Dense
		gradW.Mul(a.T(), delta)
		if weightDecay > 0 {
			gradW.Add(&gradW, scaled(n.weights[l], weightDecay))
		}

		gradB := mat.NewDense(1, delta.RawMatrix().Cols, nil)
		rows, cols := delta.Dims()
		for j := 0; j < cols; j++ {
			sum := 0.0
			for i := 0; i < rows; i++ {
				sum += delta.At(i, j)
			}
			gradB.Set(0, j, sum)
		}

		if l > 0 {
			var deltaPrev mat.Dense
			deltaPrev.Mul(delta, n.weights[l].T())
			mask := trace.masks[l-1]
			deriv := n.activateDeriv(trace.activations[l])
			deltaPrev.MulElem(&deltaPrev, deriv)
			if mask != nil {
				deltaPrev.MulElem(&deltaPrev, mask)
			}
			delta = mat.DenseCopyOf(&deltaPrev)
		}

		n.weights[l].Sub(n.weights[l], scaled(&gradW, lr))
		n.biases[l].Sub(n.biases[l], scaled(gradB, lr))
	}
}

func scaled(m *mat.Dense, factor float64) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Scale(factor, m)
	return out
}
