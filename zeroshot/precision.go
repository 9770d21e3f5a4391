package zeroshot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

var ErrInvalidPrecision = errors.New("zeroshot: invalid precision")

// Precision ist die Genauigkeit, in der die Logits gerechnet werden
type Precision int

const (
	F32 Precision = iota
	F16
	BF16
)

func (p Precision) String() string {
	switch p {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	}
	return fmt.Sprintf("Precision(%d)", int(p))
}

// ParsePrecision akzeptiert f32/f16/bf16 und die ueblichen Langformen
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "fp32", "float32":
		return F32, nil
	case "f16", "fp16", "float16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPrecision, s)
}

// round rundet v auf die Genauigkeit p
func (p Precision) round(v float64) float64 {
	switch p {
	case F16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case BF16:
		return float64(bfloat16.DecodeFloat32(bfloat16.EncodeFloat32([]float32{float32(v)}))[0])
	default:
		return float64(float32(v))
	}
}

func (p Precision) roundAll(data []float64) {
	for i, v := range data {
		data[i] = p.round(v)
	}
}
