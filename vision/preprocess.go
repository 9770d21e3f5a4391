// MODUL: preprocess
// ZWECK: CLIP-kompatibles Preprocessing (Resize, CenterCrop, Normalisierung)
// INPUT: ImageInput
// OUTPUT: Tensor (3 x Size x Size)
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: image.go, tensor.go
// HINWEISE: Entspricht Resize(n_px, bicubic) -> CenterCrop(n_px) -> ToTensor -> Normalize.
// Pixels endet nach ToTensor, Korruptionen laufen zwischen Pixels und Normalize.

package vision

import "fmt"

// DefaultImageSize ist die Eingabegroesse von ViT-B/32
const DefaultImageSize = 224

// Preprocess beschreibt die Bild-Vorverarbeitung eines Backbones
type Preprocess struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// ClipPreprocess liefert das Standard-CLIP-Preprocessing
func ClipPreprocess(size int) Preprocess {
	if size <= 0 {
		size = DefaultImageSize
	}
	return Preprocess{Size: size, Mean: ClipMean, Std: ClipStd}
}

// Pixels fuehrt Resize und CenterCrop aus, Werte liegen in [0,1] (ToTensor)
func (p Preprocess) Pixels(img *ImageInput) (Tensor, error) {
	resized, err := ResizeShorterSide(img, p.Size)
	if err != nil {
		return Tensor{}, err
	}

	cropped, err := CenterCrop(resized, p.Size, p.Size)
	if err != nil {
		return Tensor{}, fmt.Errorf("preprocess: %w", err)
	}
	return FromImage(cropped, NoNormMean, NoNormStd), nil
}

// Normalize liefert eine Kopie mit (x - mean) / std pro Kanal
func (p Preprocess) Normalize(t Tensor) (Tensor, error) {
	if err := t.Check(); err != nil {
		return Tensor{}, err
	}
	if t.C != 3 {
		return Tensor{}, fmt.Errorf("%w: need 3 channels, got %d", ErrTensorShape, t.C)
	}
	for i, s := range p.Std {
		if s == 0 {
			return Tensor{}, fmt.Errorf("vision: zero std in channel %d", i)
		}
	}

	out := t.Clone()
	plane := t.H * t.W
	for c := range 3 {
		for i := c * plane; i < (c+1)*plane; i++ {
			out.Data[i] = (out.Data[i] - p.Mean[c]) / p.Std[c]
		}
	}
	return out, nil
}

// Apply fuehrt Resize, CenterCrop und Normalisierung aus
func (p Preprocess) Apply(img *ImageInput) (Tensor, error) {
	t, err := p.Pixels(img)
	if err != nil {
		return Tensor{}, err
	}
	return p.Normalize(t)
}

// Load laedt eine Datei und wendet das Preprocessing an
func (p Preprocess) Load(path string) (Tensor, error) {
	img, err := LoadImage(path)
	if err != nil {
		return Tensor{}, err
	}
	return p.Apply(img)
}

// LoadPixels laedt eine Datei ohne Normalisierung
func (p Preprocess) LoadPixels(path string) (Tensor, error) {
	img, err := LoadImage(path)
	if err != nil {
		return Tensor{}, err
	}
	return p.Pixels(img)
}
