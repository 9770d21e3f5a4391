package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/ollama/noisyclip/distort"
	"github.com/ollama/noisyclip/vision"
)

// Item ist ein (clean, noisy) Paar, mit Label wenn HasLabel gesetzt ist
type Item struct {
	Clean    vision.Tensor
	Noisy    vision.Tensor
	Label    int
	HasLabel bool
}

// Normalizer bildet Pixel-Tensoren in den Eingaberaum des Backbones ab
type Normalizer interface {
	Normalize(vision.Tensor) (vision.Tensor, error)
}

// Contrastive umhuellt einen Datensatz und wendet die Korruption bei jedem Zugriff an.
// Ohne Transform sind clean und noisy identisch. Normalize (optional) laeuft nach der Korruption.
type Contrastive struct {
	Base        Dataset
	Transform   distort.Transform
	Normalize   Normalizer
	ReturnLabel bool
	Seed        uint64
}

func (c *Contrastive) Len() int {
	return c.Base.Len()
}

// Rand liefert den Zufallsgenerator fuer (epoch, i), unabhaengig von der Lade-Reihenfolge
func (c *Contrastive) Rand(epoch, i int) *rand.Rand {
	return rand.New(rand.NewPCG(c.Seed^(uint64(epoch)*0x9e3779b97f4a7c15), uint64(i)))
}

// Get laedt Element i und zieht eine frische Korruption fuer diese Epoche
func (c *Contrastive) Get(epoch, i int) (Item, error) {
	s, err := c.Base.Get(i)
	if err != nil {
		return Item{}, err
	}

	item := Item{Clean: s.Image, Noisy: s.Image}
	if c.Transform != nil {
		item.Clean, item.Noisy, err = c.Transform.Apply(c.Rand(epoch, i), s.Image)
		if err != nil {
			return Item{}, fmt.Errorf("item %d: %w", i, err)
		}
	}

	if c.Normalize != nil {
		if item.Clean, err = c.Normalize.Normalize(item.Clean); err != nil {
			return Item{}, fmt.Errorf("item %d: %w", i, err)
		}
		if c.Transform == nil {
			item.Noisy = item.Clean
		} else if item.Noisy, err = c.Normalize.Normalize(item.Noisy); err != nil {
			return Item{}, fmt.Errorf("item %d: %w", i, err)
		}
	}

	if c.ReturnLabel {
		item.Label, item.HasLabel = s.Label, true
	}
	return item, nil
}
