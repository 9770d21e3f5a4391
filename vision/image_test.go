// MODUL: image_test
// ZWECK: Tests fuer Bild-Lade- und Geometriefunktionen
// INPUT: Synthetische Bilder und PNG-Bytes
// OUTPUT: Testresultate
// NEBENEFFEKTE: schreibt temporaere Dateien in t.TempDir()
// ABHAENGIGKEITEN: testing, image, image/png, bytes
// HINWEISE: Testet Laden, Resize und Crop

package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// createPNGBytes erzeugt PNG-Bytes aus einem Testbild
func createPNGBytes(w, h int, c color.Color) []byte {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgba.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, rgba)
	return buf.Bytes()
}

func TestLoadImageFromBytes(t *testing.T) {
	pngData := createPNGBytes(100, 50, color.RGBA{255, 0, 0, 255})

	img, err := LoadImageFromBytes(pngData)
	if err != nil {
		t.Fatalf("LoadImageFromBytes() error = %v", err)
	}

	if img.Width != 100 || img.Height != 50 {
		t.Errorf("Groesse = %dx%d, erwartet 100x50", img.Width, img.Height)
	}

	if img.Format != FormatPNG {
		t.Errorf("Format = %v, erwartet %v", img.Format, FormatPNG)
	}
}

func TestLoadImageFromBytesInvalid(t *testing.T) {
	invalidData := []byte{0x00, 0x00, 0x00, 0x00}

	_, err := LoadImageFromBytes(invalidData)
	if err == nil {
		t.Error("Erwartet Fehler bei ungueltigem Format")
	}
}

func TestLoadImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "red.png")
	if err := os.WriteFile(path, createPNGBytes(8, 6, color.RGBA{255, 0, 0, 255}), 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	if img.Width != 8 || img.Height != 6 {
		t.Errorf("Groesse = %dx%d, erwartet 8x6", img.Width, img.Height)
	}

	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Erwartet Fehler bei fehlender Datei")
	}
}

func TestDecodeImage(t *testing.T) {
	pngData := createPNGBytes(80, 60, color.White)
	reader := bytes.NewReader(pngData)

	img, err := DecodeImage(reader)
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}

	if img.Width != 80 || img.Height != 60 {
		t.Errorf("Groesse = %dx%d, erwartet 80x60", img.Width, img.Height)
	}
}

func TestResizeShorterSide(t *testing.T) {
	tests := []struct {
		w, h, size       int
		expectW, expectH int
	}{
		{200, 100, 50, 100, 50},
		{100, 200, 50, 50, 100},
		{64, 64, 224, 224, 224},
		{300, 200, 224, 336, 224},
	}

	for _, tt := range tests {
		img, err := LoadImageFromBytes(createPNGBytes(tt.w, tt.h, color.White))
		if err != nil {
			t.Fatal(err)
		}

		resized, err := ResizeShorterSide(img, tt.size)
		if err != nil {
			t.Fatalf("ResizeShorterSide() error = %v", err)
		}
		if resized.Width != tt.expectW || resized.Height != tt.expectH {
			t.Errorf("ResizeShorterSide(%dx%d, %d) = %dx%d, erwartet %dx%d",
				tt.w, tt.h, tt.size, resized.Width, resized.Height, tt.expectW, tt.expectH)
		}
	}
}

func TestResizeShorterSideInvalid(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(10, 10, color.White))

	if _, err := ResizeShorterSide(img, 0); err == nil {
		t.Error("Erwartet Fehler bei Groesse 0")
	}
}

func TestCenterCrop(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 4))
	rgba.Set(1, 1, color.RGBA{10, 20, 30, 255})
	img := newImageInput(rgba, FormatPNG)

	cropped, err := CenterCrop(img, 2, 2)
	if err != nil {
		t.Fatalf("CenterCrop() error = %v", err)
	}

	if cropped.Width != 2 || cropped.Height != 2 {
		t.Errorf("Groesse = %dx%d, erwartet 2x2", cropped.Width, cropped.Height)
	}
	if got := cropped.Image.RGBAAt(0, 0); got != (color.RGBA{10, 20, 30, 255}) {
		t.Errorf("Pixel (0,0) = %v, erwartet Pixel (1,1) des Originals", got)
	}
}

func TestCenterCropTooLarge(t *testing.T) {
	pngData := createPNGBytes(50, 50, color.White)
	img, _ := LoadImageFromBytes(pngData)

	_, err := CenterCrop(img, 100, 100)
	if err == nil {
		t.Error("Erwartet Fehler wenn Crop groesser als Bild")
	}
}
