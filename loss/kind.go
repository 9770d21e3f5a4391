// MODUL: loss/kind
// ZWECK: Tagged Variant fuer die Loss-Auswahl (simclr | clip | mse)
// INPUT: Tag-String aus der Run-Config
// OUTPUT: Kind, Reduction
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Ungueltige Tags werden beim Parsen abgelehnt, nie erst beim Aufruf

package loss

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKind wird fuer unbekannte Loss-Tags zurueckgegeben
	ErrInvalidKind = errors.New("loss: invalid loss type")

	// ErrInvalidReduction wird fuer unbekannte Reduktionen zurueckgegeben
	ErrInvalidReduction = errors.New("loss: invalid reduction")

	// ErrInvalidTemperature wird fuer tau <= 0 zurueckgegeben
	ErrInvalidTemperature = errors.New("loss: temperature must be > 0")
)

// Kind waehlt das Trainingsziel
type Kind int

const (
	KindSimCLR Kind = iota + 1
	KindCLIP
	KindMSE
)

// KindNames listet alle gueltigen Tags in kanonischer Reihenfolge
var KindNames = []string{"simclr", "clip", "mse"}

func (k Kind) String() string {
	switch k {
	case KindSimCLR:
		return "simclr"
	case KindCLIP:
		return "clip"
	case KindMSE:
		return "mse"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Valid meldet ob k einer der bekannten Varianten entspricht
func (k Kind) Valid() bool {
	return k >= KindSimCLR && k <= KindMSE
}

// UsesTemperature meldet ob die Variante tau benoetigt
func (k Kind) UsesTemperature() bool {
	return k == KindSimCLR || k == KindCLIP
}

// ParseKind parst einen Loss-Tag (Gross-/Kleinschreibung egal)
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simclr":
		return KindSimCLR, nil
	case "clip":
		return KindCLIP, nil
	case "mse":
		return KindMSE, nil
	default:
		return 0, fmt.Errorf("%w %q, must be one of %s", ErrInvalidKind, s, strings.Join(KindNames, ", "))
	}
}

// Reduction steuert die zusaetzliche Skalierung mit 1/N
type Reduction int

const (
	ReductionMean Reduction = iota
	ReductionSum
)

func (r Reduction) String() string {
	if r == ReductionSum {
		return "sum"
	}
	return "mean"
}

// ParseReduction parst "mean" oder "sum"; leer bedeutet mean
func ParseReduction(s string) (Reduction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean":
		return ReductionMean, nil
	case "sum", "none":
		return ReductionSum, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrInvalidReduction, s)
	}
}
