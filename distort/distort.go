// Package distort erzeugt aus einem sauberen Bild-Tensor ein Paar (clean, noisy).
//
// MODUL: distort
// ZWECK: Bild-Korruptionen fuer das Student-Teacher Training (Maske, Quadrat, Blur)
// INPUT: vision.Tensor, *rand.Rand, Params
// OUTPUT: (clean, noisy) Tensor-Paar
// NEBENEFFEKTE: keine, der Eingabe-Tensor wird nie veraendert
// ABHAENGIGKEITEN: vision
// HINWEISE: Zufall kommt ausschliesslich aus dem uebergebenen rng.
// Fixed() friert eine einmal gezogene Maske fuer die Validierung ein.
package distort

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/ollama/noisyclip/vision"
)

var (
	ErrInvalidKind  = errors.New("distort: invalid distortion type")
	ErrMaskFraction = errors.New("distort: mask fraction must be in [0, 1]")
	ErrSquareSize   = errors.New("distort: square size must be positive")
	ErrKernelSize   = errors.New("distort: kernel size must be odd and positive")
	ErrBlurStd      = errors.New("distort: blur std must be positive")
	ErrMaskShape    = errors.New("distort: fixed mask does not match image size")
)

// Kind ist die Art der Korruption
type Kind int

const (
	KindNone Kind = iota
	KindRandom
	KindSquare
	KindBlur
)

// KindNames listet die kanonischen Namen in Kind-Reihenfolge
var KindNames = []string{"none", "random", "square", "blur"}

var kindAliases = map[string]Kind{
	"none":          KindNone,
	"identity":      KindNone,
	"random":        KindRandom,
	"randommask":    KindRandom,
	"square":        KindSquare,
	"squaremask":    KindSquare,
	"blur":          KindBlur,
	"gaussian":      KindBlur,
	"gaussianblur":  KindBlur,
	"gaussian_blur": KindBlur,
	"random_mask":   KindRandom,
	"square_mask":   KindSquare,
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(KindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return KindNames[k]
}

// ParseKind akzeptiert die Namen unabhaengig von Gross-/Kleinschreibung ("None", "Random", ...)
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Params beschreibt eine Korruption
type Params struct {
	Kind         Kind
	MaskFraction float64 // KindRandom
	SquareSize   int     // KindSquare, Seitenlaenge in Pixeln
	KernelSize   int     // KindBlur
	Std          float64 // KindBlur
}

// Transform bildet einen sauberen Tensor auf (clean, noisy) ab.
// clean ist der unveraenderte Eingabe-Tensor, noisy eine neue Kopie.
type Transform interface {
	Apply(rng *rand.Rand, t vision.Tensor) (clean, noisy vision.Tensor, err error)
}

// New validiert die Parameter und liefert die passende Transformation
func New(p Params) (Transform, error) {
	switch p.Kind {
	case KindNone:
		return Identity{}, nil
	case KindRandom:
		if p.MaskFraction < 0 || p.MaskFraction > 1 || math.IsNaN(p.MaskFraction) {
			return nil, fmt.Errorf("%w: got %v", ErrMaskFraction, p.MaskFraction)
		}
		return RandomMask{Fraction: p.MaskFraction}, nil
	case KindSquare:
		if p.SquareSize <= 0 {
			return nil, fmt.Errorf("%w: got %d", ErrSquareSize, p.SquareSize)
		}
		return SquareMask{Size: p.SquareSize}, nil
	case KindBlur:
		return NewGaussianBlur(p.KernelSize, p.Std)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidKind, p.Kind)
	}
}

// Identity liefert noisy = clean
type Identity struct{}

func (Identity) Apply(_ *rand.Rand, t vision.Tensor) (vision.Tensor, vision.Tensor, error) {
	if err := t.Check(); err != nil {
		return vision.Tensor{}, vision.Tensor{}, err
	}
	return t, t.Clone(), nil
}

// ============================================================================
// Masken
// ============================================================================

// Mask markiert die Pixel (H x W), die in allen Kanaelen genullt werden
type Mask struct {
	H, W int
	Bits []bool
}

// Count gibt die Anzahl maskierter Pixel zurueck
func (m Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

func (m Mask) apply(t vision.Tensor) (vision.Tensor, vision.Tensor, error) {
	if err := t.Check(); err != nil {
		return vision.Tensor{}, vision.Tensor{}, err
	}
	if t.H != m.H || t.W != m.W {
		return vision.Tensor{}, vision.Tensor{}, fmt.Errorf("%w: mask %dx%d, image %dx%d", ErrMaskShape, m.H, m.W, t.H, t.W)
	}

	noisy := t.Clone()
	plane := t.H * t.W
	for i, masked := range m.Bits {
		if !masked {
			continue
		}
		for c := range t.C {
			noisy.Data[c*plane+i] = 0
		}
	}
	return t, noisy, nil
}

// Masker erzeugt pro Aufruf eine neue Maske
type Masker interface {
	Sample(rng *rand.Rand, h, w int) Mask
}

// RandomMask nullt round(Fraction*H*W) verschiedene Pixel
type RandomMask struct {
	Fraction float64
}

// Sample zieht die Pixel per partiellem Fisher-Yates
func (r RandomMask) Sample(rng *rand.Rand, h, w int) Mask {
	total := h * w
	n := int(math.Round(r.Fraction * float64(total)))
	n = min(max(n, 0), total)

	idx := make([]int, total)
	for i := range idx {
		idx[i] = i
	}
	bits := make([]bool, total)
	for i := range n {
		j := i + rng.IntN(total-i)
		idx[i], idx[j] = idx[j], idx[i]
		bits[idx[i]] = true
	}
	return Mask{H: h, W: w, Bits: bits}
}

func (r RandomMask) Apply(rng *rand.Rand, t vision.Tensor) (vision.Tensor, vision.Tensor, error) {
	return r.Sample(rng, t.H, t.W).apply(t)
}

// SquareMask nullt ein zufaellig platziertes Quadrat, Seite auf die Bildgroesse begrenzt
type SquareMask struct {
	Size int
}

// Sample waehlt die obere linke Ecke gleichverteilt
func (s SquareMask) Sample(rng *rand.Rand, h, w int) Mask {
	side := min(s.Size, h, w)
	top := rng.IntN(h - side + 1)
	left := rng.IntN(w - side + 1)

	bits := make([]bool, h*w)
	for y := top; y < top+side; y++ {
		for x := left; x < left+side; x++ {
			bits[y*w+x] = true
		}
	}
	return Mask{H: h, W: w, Bits: bits}
}

func (s SquareMask) Apply(rng *rand.Rand, t vision.Tensor) (vision.Tensor, vision.Tensor, error) {
	return s.Sample(rng, t.H, t.W).apply(t)
}

// FixedMask wendet immer dieselbe Maske an
type FixedMask struct {
	Mask Mask
}

func (f FixedMask) Apply(_ *rand.Rand, t vision.Tensor) (vision.Tensor, vision.Tensor, error) {
	return f.Mask.apply(t)
}

// Fixed zieht fuer maskierende Transformationen einmalig eine Maske der Groesse h x w.
// Deterministische Transformationen (Identity, Blur) werden unveraendert zurueckgegeben.
func Fixed(t Transform, rng *rand.Rand, h, w int) (Transform, error) {
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrMaskShape, h, w)
	}
	if m, ok := t.(Masker); ok {
		return FixedMask{Mask: m.Sample(rng, h, w)}, nil
	}
	return t, nil
}
