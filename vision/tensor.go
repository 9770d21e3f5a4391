// MODUL: tensor
// ZWECK: CHW-Float-Tensor fuer Bilder, Normalisierung und Rueckkonvertierung
// INPUT: ImageInput, Normalisierungs-Parameter (mean, std)
// OUTPUT: Tensor im CHW Layout
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Tensor ist ein Wert-Typ mit geteiltem Data-Slice, Clone vor Mutation

package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Standard-Normalisierungswerte
var (
	// CLIP Default
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}

	// ImageNet Default
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}

	// Keine Normalisierung (nur Skalierung auf [0,1])
	NoNormMean = [3]float32{0.0, 0.0, 0.0}
	NoNormStd  = [3]float32{1.0, 1.0, 1.0}
)

// ErrTensorShape wird bei inkonsistenten Tensor-Dimensionen zurueckgegeben
var ErrTensorShape = errors.New("vision: tensor shape mismatch")

// Tensor ist ein Bild im CHW Layout (Channel-First)
type Tensor struct {
	C, H, W int
	Data    []float32
}

// NewTensor erstellt einen genullten Tensor
func NewTensor(c, h, w int) Tensor {
	return Tensor{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

// Len gibt die Anzahl der Elemente zurueck
func (t Tensor) Len() int {
	return t.C * t.H * t.W
}

// Shape gibt [C, H, W] zurueck
func (t Tensor) Shape() []int {
	return []int{t.C, t.H, t.W}
}

// Check prueft ob Data zur Form passt
func (t Tensor) Check() error {
	if t.C <= 0 || t.H <= 0 || t.W <= 0 || len(t.Data) != t.Len() {
		return fmt.Errorf("%w: %dx%dx%d with %d values", ErrTensorShape, t.C, t.H, t.W, len(t.Data))
	}
	return nil
}

// SameShape prueft ob zwei Tensoren dieselbe Form haben
func (t Tensor) SameShape(o Tensor) bool {
	return t.C == o.C && t.H == o.H && t.W == o.W
}

// Index berechnet den flachen Index fuer (c, y, x)
func (t Tensor) Index(c, y, x int) int {
	return (c*t.H+y)*t.W + x
}

// At liest den Wert an (c, y, x)
func (t Tensor) At(c, y, x int) float32 {
	return t.Data[t.Index(c, y, x)]
}

// Set schreibt den Wert an (c, y, x)
func (t Tensor) Set(c, y, x int, v float32) {
	t.Data[t.Index(c, y, x)] = v
}

// Clone erstellt eine tiefe Kopie
func (t Tensor) Clone() Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return Tensor{C: t.C, H: t.H, W: t.W, Data: data}
}

// FromImage normalisiert ein RGB-Bild in einen CHW Tensor
func FromImage(img *ImageInput, mean, std [3]float32) Tensor {
	bounds := img.Image.Bounds()
	t := NewTensor(3, bounds.Dy(), bounds.Dx())

	idx := 0
	plane := t.H * t.W
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b := extractRGB(img.Image, x, y)
			t.Data[idx] = (r - mean[0]) / std[0]
			t.Data[plane+idx] = (g - mean[1]) / std[1]
			t.Data[2*plane+idx] = (b - mean[2]) / std[2]
			idx++
		}
	}
	return t
}

// extractRGB holt RGB-Werte als float32 im Bereich [0,1]
func extractRGB(img *image.RGBA, x, y int) (float32, float32, float32) {
	c := img.RGBAAt(x, y)
	return float32(c.R) / 255.0, float32(c.G) / 255.0, float32(c.B) / 255.0
}

// ToImage kehrt FromImage um, Werte ausserhalb [0,1] werden abgeschnitten
func ToImage(t Tensor, mean, std [3]float32) (*image.RGBA, error) {
	if err := t.Check(); err != nil {
		return nil, err
	}
	if t.C != 3 {
		return nil, fmt.Errorf("%w: need 3 channels, got %d", ErrTensorShape, t.C)
	}

	img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
	for y := range t.H {
		for x := range t.W {
			var px [3]uint8
			for c := range 3 {
				v := t.At(c, y, x)*std[c] + mean[c]
				px[c] = uint8(min(max(v, 0), 1)*255 + 0.5)
			}
			img.SetRGBA(x, y, color.RGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return img, nil
}
