// Package gguf - minimaler GGUF v3 Container fuer Checkpoints
//
// Dieses Modul enthaelt:
// - KV: Key-Value Metadaten (werden sortiert geschrieben)
// - Tensor: benannter F32/F16 Tensor
// - TensorType: Element-Typen F32 und F16
// - File: Ergebnis von Open/Read
package gguf

import (
	"errors"
	"fmt"
	"slices"
)

const (
	magic   = "GGUF"
	version = 3

	// DefaultAlignment ist das Alignment der Tensor-Daten
	DefaultAlignment = 32
)

var (
	ErrMagic       = errors.New("gguf: invalid magic")
	ErrVersion     = errors.New("gguf: unsupported version")
	ErrType        = errors.New("gguf: unsupported value type")
	ErrTensorShape = errors.New("gguf: tensor data does not match shape")
)

// GGUF Type Constants
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// TensorType ist der Element-Typ eines Tensors
type TensorType uint32

const (
	TensorTypeF32 TensorType = 0
	TensorTypeF16 TensorType = 1
)

func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	}
	return fmt.Sprintf("TensorType(%d)", uint32(t))
}

func (t TensorType) size() uint64 {
	if t == TensorTypeF16 {
		return 2
	}
	return 4
}

// KV sind die Metadaten einer Datei
type KV map[string]any

// Keys gibt die Schluessel sortiert zurueck
func (kv KV) Keys() []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// String gibt einen String-Wert zurueck, "" wenn nicht vorhanden
func (kv KV) String(key string) string {
	s, _ := kv[key].(string)
	return s
}

// Uint gibt einen uint64/uint32-Wert zurueck
func (kv KV) Uint(key string, defaultValue ...uint64) uint64 {
	switch v := kv[key].(type) {
	case uint64:
		return v
	case uint32:
		return uint64(v)
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// Strings gibt ein String-Array zurueck
func (kv KV) Strings(key string) []string {
	s, _ := kv[key].([]string)
	return s
}

// Tensor ist ein benannter Tensor, Shape in GGUF-Reihenfolge (innerste Dimension zuerst)
type Tensor struct {
	Name   string
	Shape  []uint64
	Type   TensorType
	Data   []float32
	Offset uint64
}

// Elements gibt die Anzahl Elemente laut Shape zurueck
func (t *Tensor) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Size gibt die Groesse der Daten in Bytes zurueck
func (t *Tensor) Size() uint64 {
	return t.Elements() * t.Type.size()
}

// File ist eine vollstaendig gelesene GGUF-Datei
type File struct {
	Version uint32
	KV      KV
	Tensors []*Tensor
}

// Tensor sucht einen Tensor nach Name
func (f *File) Tensor(name string) (*Tensor, bool) {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func padding(offset, align int64) int64 {
	return (align - offset%align) % align
}
