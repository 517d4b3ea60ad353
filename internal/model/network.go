// Package model implements the feed-forward classifier: an ordered list of
// fully connected layers with a configurable element-wise nonlinearity
// (ReLU by default, or tanh / sigmoid), dropout between hidden
// layers, and a 3-way softmax output over {BUY, HOLD, SELL}. Weight
// matrices are gonum/mat.Dense, matching the matrix-library usage pattern
// the pack's quant repos (abdoElHodaky-tradSys, penny-vault-pvbt) already
// establish for numerical work.
package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Architecture describes the network's shape: input width, hidden layer
// widths, and output width (always 3 for BUY/HOLD/SELL).
type Architecture struct {
	InputWidth  int
	Hidden      []int
	Activation  string // "relu" | "tanh" | "sigmoid"
	Dropout     float64
}

const outputWidth = 3

// Network is a compiled MLP ready for forward/backward passes.
type Network struct {
	arch    Architecture
	weights []*mat.Dense // one per layer, shape (in, out)
	biases  []*mat.Dense // one per layer, shape (1, out)
}

// NewNetwork allocates a network with weights initialized via scaled
// uniform (Xavier-style) random values, using rng for reproducibility.
func NewNetwork(arch Architecture, rng *rand.Rand) *Network {
	layerSizes := append([]int{arch.InputWidth}, arch.Hidden...)
	layerSizes = append(layerSizes, outputWidth)

	n := &Network{arch: arch}
	for l := 0; l < len(layerSizes)-1; l++ {
		in, out := layerSizes[l], layerSizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		w := mat.NewDense(in, out, nil)
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				w.Set(i, j, (rng.Float64()*2-1)*limit)
			}
		}
		b := mat.NewDense(1, out, nil)
		n.weights = append(n.weights, w)
		n.biases = append(n.biases, b)
	}
	return n
}

func (n *Network) activate(z *mat.Dense) *mat.Dense {
	rows, cols := z.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		switch n.arch.Activation {
		case "tanh":
			return math.Tanh(v)
		case "sigmoid":
			return 1 / (1 + math.Exp(-v))
		default: // relu
			if v < 0 {
				return 0
			}
			return v
		}
	}, z)
	return out
}

func (n *Network) activateDeriv(a *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		switch n.arch.Activation {
		case "tanh":
			return 1 - v*v
		case "sigmoid":
			return v * (1 - v)
		default: // relu
			if v > 0 {
				return 1
			}
			return 0
		}
	}, a)
	return out
}

// forward runs X (n x d) through every layer, applying dropout masks when
// train is true, and returns the input plus each layer's post-activation
// output, and (for hidden layers) the dropout mask — needed by backprop —
// plus the final softmax probabilities. Pre-activations are not kept.
type forwardTrace struct {
	activations []*mat.Dense // activations[0] = X, activations[l+1] = layer l's output
	masks       []*mat.Dense // dropout masks per hidden layer
	probs       *mat.Dense
}

func (n *Network) forward(X *mat.Dense, train bool, rng *rand.Rand) forwardTrace {
	trace := forwardTrace{activations: []*mat.Dense{X}}
	a := X
	for l := 0; l < len(n.weights); l++ {
		rows, _ := a.Dims()
		_, out := n.weights[l].Dims()
		z := mat.NewDense(rows, out, nil)
		z.Mul(a, n.weights[l])
		z.Apply(func(i, j int, v float64) float64 { return v + n.biases[l].At(0, j) }, z)

		isOutput := l == len(n.weights)-1
		var activated *mat.Dense
		if isOutput {
			activated = softmax(z)
		} else {
			activated = n.activate(z)
			if train && n.arch.Dropout > 0 {
				mask := mat.NewDense(rows, out, nil)
				mask.Apply(func(_, _ int, _ float64) float64 {
					if rng.Float64() < n.arch.Dropout {
						return 0
					}
					return 1 / (1 - n.arch.Dropout)
				}, mask)
				activated.MulElem(activated, mask)
				trace.masks = append(trace.masks, mask)
			} else {
				trace.masks = append(trace.masks, nil)
			}
		}
		trace.activations = append(trace.activations, activated)
		a = activated
	}
	trace.probs = trace.activations[len(trace.activations)-1]
	return trace
}

// Predict returns the softmax probabilities for X without dropout.
func (n *Network) Predict(X *mat.Dense) *mat.Dense {
	return n.forward(X, false, nil).probs
}

func softmax(z *mat.Dense) *mat.Dense {
	rows, cols := z.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		maxV := math.Inf(-1)
		for j := 0; j < cols; j++ {
			if v := z.At(i, j); v > maxV {
				maxV = v
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(z.At(i, j) - maxV)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}
