package distort

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ollama/noisyclip/vision"
)

// GaussianBlur faltet jeden Kanal separabel mit einem Gauss-Kern, Rand per Spiegelung
type GaussianBlur struct {
	kernel []float32
}

// NewGaussianBlur prueft size (ungerade, >= 1) und std (> 0)
func NewGaussianBlur(size int, std float64) (*GaussianBlur, error) {
	if size < 1 || size%2 == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrKernelSize, size)
	}
	if !(std > 0) || math.IsInf(std, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrBlurStd, std)
	}
	return &GaussianBlur{kernel: gaussianKernel(size, std)}, nil
}

// Kernel gibt den normierten 1D-Kern zurueck
func (g *GaussianBlur) Kernel() []float32 {
	return g.kernel
}

func gaussianKernel(size int, std float64) []float32 {
	r := size / 2
	k := make([]float64, size)
	var sum float64
	for i := range k {
		x := float64(i - r)
		k[i] = math.Exp(-x * x / (2 * std * std))
		sum += k[i]
	}

	out := make([]float32, size)
	for i, v := range k {
		out[i] = float32(v / sum)
	}
	return out
}

// reflect spiegelt i in [0, n) ohne Wiederholung der Randpixel
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

func (g *GaussianBlur) Apply(_ *rand.Rand, t vision.Tensor) (vision.Tensor, vision.Tensor, error) {
	if err := t.Check(); err != nil {
		return vision.Tensor{}, vision.Tensor{}, err
	}

	r := len(g.kernel) / 2
	tmp := vision.NewTensor(t.C, t.H, t.W)
	out := vision.NewTensor(t.C, t.H, t.W)

	for c := range t.C {
		for y := range t.H {
			for x := range t.W {
				var acc float32
				for k, w := range g.kernel {
					acc += w * t.At(c, y, reflect(x+k-r, t.W))
				}
				tmp.Set(c, y, x, acc)
			}
		}
		for y := range t.H {
			for x := range t.W {
				var acc float32
				for k, w := range g.kernel {
					acc += w * tmp.At(c, reflect(y+k-r, t.H), x)
				}
				out.Set(c, y, x, acc)
			}
		}
	}
	return t, out, nil
}
