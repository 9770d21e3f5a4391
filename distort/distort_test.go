package distort

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/ollama/noisyclip/vision"
)

func ones(c, h, w int) vision.Tensor {
	t := vision.NewTensor(c, h, w)
	for i := range t.Data {
		t.Data[i] = 1
	}
	return t
}

func zeros(t vision.Tensor) int {
	n := 0
	for _, v := range t.Data {
		if v == 0 {
			n++
		}
	}
	return n
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0))
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"None":          KindNone,
		"Random":        KindRandom,
		"RandomMask":    KindRandom,
		"random_mask":   KindRandom,
		" square ":      KindSquare,
		"SquareMask":    KindSquare,
		"square_mask":   KindSquare,
		"BLUR":          KindBlur,
		"GaussianBlur":  KindBlur,
		"gaussian_blur": KindBlur,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("jpeg"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("ParseKind(jpeg) = %v, want ErrInvalidKind", err)
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		p    Params
		err  error
	}{
		{"fraction below zero", Params{Kind: KindRandom, MaskFraction: -0.1}, ErrMaskFraction},
		{"fraction above one", Params{Kind: KindRandom, MaskFraction: 1.5}, ErrMaskFraction},
		{"fraction nan", Params{Kind: KindRandom, MaskFraction: math.NaN()}, ErrMaskFraction},
		{"square zero", Params{Kind: KindSquare}, ErrSquareSize},
		{"even kernel", Params{Kind: KindBlur, KernelSize: 4, Std: 1}, ErrKernelSize},
		{"zero std", Params{Kind: KindBlur, KernelSize: 3}, ErrBlurStd},
		{"unknown kind", Params{Kind: Kind(9)}, ErrInvalidKind},
		{"fraction edges", Params{Kind: KindRandom, MaskFraction: 1}, nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p)
			if !errors.Is(err, tt.err) {
				t.Errorf("New() = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	in := ones(3, 4, 4)
	clean, noisy, err := Identity{}.Apply(newRand(1), in)
	if err != nil {
		t.Fatal(err)
	}
	for i := range in.Data {
		if clean.Data[i] != 1 || noisy.Data[i] != 1 {
			t.Fatalf("value %d changed", i)
		}
	}
	noisy.Data[0] = 5
	if in.Data[0] != 1 {
		t.Error("noisy shares storage with input")
	}
}

func TestRandomMaskCount(t *testing.T) {
	for _, p := range []float64{0, 0.01, 0.3, 0.5, 1} {
		tr, err := New(Params{Kind: KindRandom, MaskFraction: p})
		if err != nil {
			t.Fatal(err)
		}

		in := ones(3, 10, 10)
		clean, noisy, err := tr.Apply(newRand(7), in)
		if err != nil {
			t.Fatal(err)
		}

		want := 3 * int(math.Round(p*100))
		if got := zeros(noisy); got != want {
			t.Errorf("p=%v: %d zeros, want %d", p, got, want)
		}
		if zeros(clean) != 0 {
			t.Errorf("p=%v: clean image modified", p)
		}
		for i := range 100 {
			if (noisy.Data[i] == 0) != (noisy.Data[100+i] == 0) || (noisy.Data[i] == 0) != (noisy.Data[200+i] == 0) {
				t.Fatalf("p=%v: pixel %d not masked across all channels", p, i)
			}
		}
	}
}

func TestRandomMaskResamples(t *testing.T) {
	tr := RandomMask{Fraction: 0.5}
	rng := newRand(3)

	_, a, _ := tr.Apply(rng, ones(1, 8, 8))
	_, b, _ := tr.Apply(rng, ones(1, 8, 8))

	same := true
	for i := range a.Data {
		same = same && a.Data[i] == b.Data[i]
	}
	if same {
		t.Error("consecutive calls produced the same mask")
	}
}

func TestSquareMask(t *testing.T) {
	_, noisy, err := SquareMask{Size: 3}.Apply(newRand(11), ones(2, 8, 6))
	if err != nil {
		t.Fatal(err)
	}
	if got := zeros(noisy); got != 2*9 {
		t.Errorf("zeros = %d, want 18", got)
	}

	// zeroed pixels form a contiguous 3x3 block
	minY, minX, maxY, maxX := 8, 6, -1, -1
	for y := range 8 {
		for x := range 6 {
			if noisy.At(0, y, x) == 0 {
				minY, minX = min(minY, y), min(minX, x)
				maxY, maxX = max(maxY, y), max(maxX, x)
			}
		}
	}
	if maxY-minY != 2 || maxX-minX != 2 {
		t.Errorf("masked area spans %dx%d, want 3x3", maxY-minY+1, maxX-minX+1)
	}
}

func TestSquareMaskCapped(t *testing.T) {
	_, noisy, err := SquareMask{Size: 100}.Apply(newRand(1), ones(3, 5, 7))
	if err != nil {
		t.Fatal(err)
	}
	if got := zeros(noisy); got != 3*25 {
		t.Errorf("zeros = %d, want 75", got)
	}
}

func TestFixed(t *testing.T) {
	fixed, err := Fixed(RandomMask{Fraction: 0.25}, newRand(5), 6, 6)
	if err != nil {
		t.Fatal(err)
	}

	_, a, _ := fixed.Apply(newRand(1), ones(3, 6, 6))
	_, b, _ := fixed.Apply(newRand(2), ones(3, 6, 6))
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("fixed mask differs at %d", i)
		}
	}
	if got := zeros(a); got != 3*9 {
		t.Errorf("zeros = %d, want 27", got)
	}

	if _, _, err := fixed.Apply(nil, ones(3, 5, 5)); !errors.Is(err, ErrMaskShape) {
		t.Errorf("Apply() on other size = %v, want ErrMaskShape", err)
	}

	blur, _ := NewGaussianBlur(3, 1)
	same, err := Fixed(blur, newRand(5), 6, 6)
	if err != nil || same != Transform(blur) {
		t.Errorf("Fixed(blur) = %v, %v; want blur unchanged", same, err)
	}
}

func TestGaussianKernel(t *testing.T) {
	g, err := NewGaussianBlur(11, 2)
	if err != nil {
		t.Fatal(err)
	}
	k := g.Kernel()

	var sum float64
	for i, v := range k {
		sum += float64(v)
		if math.Abs(float64(v-k[len(k)-1-i])) > 1e-7 {
			t.Errorf("kernel not symmetric at %d", i)
		}
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("kernel sum = %v, want 1", sum)
	}
	if k[5] <= k[4] {
		t.Error("kernel center is not the maximum")
	}
}

func TestBlurConstantImage(t *testing.T) {
	g, _ := NewGaussianBlur(5, 1.5)
	in := ones(3, 4, 4)
	_, noisy, err := g.Apply(nil, in)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range noisy.Data {
		if math.Abs(float64(v-1)) > 1e-5 {
			t.Fatalf("noisy[%d] = %v, want 1", i, v)
		}
	}
}

func TestBlurSpreadsImpulse(t *testing.T) {
	g, _ := NewGaussianBlur(3, 1)
	in := vision.NewTensor(1, 5, 5)
	in.Set(0, 2, 2, 1)

	_, noisy, err := g.Apply(nil, in)
	if err != nil {
		t.Fatal(err)
	}

	k := g.Kernel()
	if got, want := noisy.At(0, 2, 2), k[1]*k[1]; math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("center = %v, want %v", got, want)
	}
	if noisy.At(0, 1, 2) != noisy.At(0, 3, 2) || noisy.At(0, 2, 1) != noisy.At(0, 2, 3) {
		t.Error("blur is not symmetric")
	}
	if in.At(0, 2, 2) != 1 {
		t.Error("input modified")
	}
}

func TestReflect(t *testing.T) {
	cases := []struct{ i, n, want int }{
		{-1, 5, 1}, {-2, 5, 2}, {5, 5, 3}, {6, 5, 2}, {0, 1, 0}, {-3, 2, 1}, {4, 5, 4},
	}
	for _, c := range cases {
		if got := reflect(c.i, c.n); got != c.want {
			t.Errorf("reflect(%d, %d) = %d, want %d", c.i, c.n, got, c.want)
		}
	}
}
