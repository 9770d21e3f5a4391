// Package gguf - GGUF Write Operations
//
// Dieses Modul enthaelt:
// - Write: Schreibt komplettes GGUF-File mit KV und Tensors
// - writeValue: typisierte Werte mit Typ-Prefix
// - writeString / writeArray: Serialisierung von Strings und Arrays
// - writeTensorInfo: Tensor-Metadaten
package gguf

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"

	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

// Write schreibt ein GGUF v3 File. Tensors werden nach Name sortiert abgelegt.
func Write(f *os.File, kv KV, ts []*Tensor) error {
	for _, t := range ts {
		if uint64(len(t.Data)) != t.Elements() {
			return fmt.Errorf("%w: %s has %d values for shape %v", ErrTensorShape, t.Name, len(t.Data), t.Shape)
		}
		if t.Type != TensorTypeF32 && t.Type != TensorTypeF16 {
			return fmt.Errorf("%w: tensor %s type %v", ErrType, t.Name, t.Type)
		}
	}

	for _, v := range []any{[]byte(magic), uint32(version), uint64(len(ts)), uint64(len(kv))} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, key := range kv.Keys() {
		if err := writeKV(f, key, kv[key]); err != nil {
			return err
		}
	}

	slices.SortStableFunc(ts, func(a, b *Tensor) int {
		return cmp.Compare(a.Name, b.Name)
	})

	alignment := int64(kv.Uint("general.alignment", DefaultAlignment))

	var s uint64
	for _, t := range ts {
		t.Offset = s
		if err := writeTensorInfo(f, t); err != nil {
			return err
		}
		s += t.Size()
		s += uint64(padding(int64(s), alignment))
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += padding(offset, alignment)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.Offset))
		g.Go(func() error {
			return writeTensorData(w, t)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Datei auf volle Laenge bringen, auch wenn der letzte Tensor leer ist
	end := offset + int64(s)
	if info, err := f.Stat(); err == nil && info.Size() < end {
		return f.Truncate(end)
	}
	return nil
}

func writeTensorData(w io.Writer, t *Tensor) error {
	if t.Type == TensorTypeF16 {
		bits := make([]uint16, len(t.Data))
		for i, v := range t.Data {
			bits[i] = float16.Fromfloat32(v).Bits()
		}
		return binary.Write(w, binary.LittleEndian, bits)
	}
	return binary.Write(w, binary.LittleEndian, t.Data)
}

// writeValue schreibt einen typisierten Wert mit Typ-Prefix
func writeValue[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func writeRawString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// writeString schreibt einen String mit Typ-Prefix und Laenge
func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, typeString); err != nil {
		return err
	}
	return writeRawString(w, s)
}

// writeArray schreibt ein Array mit Typ-Prefix
func writeArray[S ~[]E, E any](w io.Writer, t uint32, s S) error {
	for _, v := range []any{typeArray, t, uint64(len(s))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if t == typeString {
		for _, e := range any(s).([]string) {
			if err := writeRawString(w, e); err != nil {
				return err
			}
		}
		return nil
	}
	return binary.Write(w, binary.LittleEndian, s)
}

// writeKV schreibt ein Key-Value Paar
func writeKV(w io.Writer, k string, v any) error {
	slog.Debug(k, "type", fmt.Sprintf("%T", v))

	if err := writeRawString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case uint32:
		return writeValue(w, typeUint32, v)
	case int32:
		return writeValue(w, typeInt32, v)
	case uint64:
		return writeValue(w, typeUint64, v)
	case int64:
		return writeValue(w, typeInt64, v)
	case float32:
		return writeValue(w, typeFloat32, v)
	case float64:
		return writeValue(w, typeFloat64, v)
	case bool:
		return writeValue(w, typeBool, v)
	case string:
		return writeString(w, v)
	case []string:
		return writeArray(w, typeString, v)
	case []float32:
		return writeArray(w, typeFloat32, v)
	case []int32:
		return writeArray(w, typeInt32, v)
	case []uint64:
		return writeArray(w, typeUint64, v)
	default:
		return fmt.Errorf("%w for '%s': %T", ErrType, k, v)
	}
}

// writeTensorInfo schreibt die Tensor-Metadaten
func writeTensorInfo(w io.Writer, t *Tensor) error {
	slog.Debug(t.Name, "kind", t.Type, "shape", t.Shape, "offset", t.Offset)

	if err := writeRawString(w, t.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Shape))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t.Shape); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(t.Type)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Offset)
}
