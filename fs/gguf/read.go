// Package gguf - GGUF File Read Funktionen
//
// Dieses Modul enthaelt:
// - Open / Read: Liest Header, KV, Tensor-Infos und Daten
// - read[T]: Generische Funktion zum Lesen typisierter Werte
// - readString / readArray: Deserialisierung von Strings und Arrays
package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/x448/float16"
)

// countingReader merkt sich die Position fuer die Alignment-Berechnung
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Open liest eine GGUF-Datei vollstaendig
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	file, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Read liest GGUF v3 Daten aus r
func Read(r io.Reader) (*File, error) {
	cr := &countingReader{r: bufio.NewReader(r)}

	var m [4]byte
	if _, err := io.ReadFull(cr, m[:]); err != nil {
		return nil, err
	}
	if string(m[:]) != magic {
		return nil, ErrMagic
	}

	v, err := read[uint32](cr)
	if err != nil {
		return nil, err
	}
	if v != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}

	numTensors, err := read[uint64](cr)
	if err != nil {
		return nil, err
	}
	numKV, err := read[uint64](cr)
	if err != nil {
		return nil, err
	}

	file := &File{Version: v, KV: make(KV, numKV)}
	for range numKV {
		key, value, err := readKeyValue(cr)
		if err != nil {
			return nil, err
		}
		file.KV[key] = value
	}

	for range numTensors {
		t, err := readTensorInfo(cr)
		if err != nil {
			return nil, err
		}
		file.Tensors = append(file.Tensors, t)
	}

	alignment := int64(file.KV.Uint("general.alignment", DefaultAlignment))
	base := cr.n + padding(cr.n, alignment)
	for _, t := range file.Tensors {
		if skip := base + int64(t.Offset) - cr.n; skip > 0 {
			if _, err := io.CopyN(io.Discard, cr, skip); err != nil {
				return nil, err
			}
		} else if skip < 0 {
			return nil, fmt.Errorf("gguf: tensor %s overlaps previous data", t.Name)
		}
		if err := readTensorData(cr, t); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", t.Name, err)
		}
	}
	return file, nil
}

func readTensorData(r io.Reader, t *Tensor) error {
	n := t.Elements()
	switch t.Type {
	case TensorTypeF32:
		t.Data = make([]float32, n)
		return binary.Read(r, binary.LittleEndian, t.Data)
	case TensorTypeF16:
		bits := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, bits); err != nil {
			return err
		}
		t.Data = make([]float32, n)
		for i, b := range bits {
			t.Data[i] = float16.Frombits(b).Float32()
		}
		return nil
	}
	return fmt.Errorf("%w: tensor type %v", ErrType, t.Type)
}

// readTensorInfo liest die Metadaten eines einzelnen Tensors
func readTensorInfo(r io.Reader) (*Tensor, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}

	dims, err := read[uint32](r)
	if err != nil {
		return nil, err
	}

	shape := make([]uint64, dims)
	if err := binary.Read(r, binary.LittleEndian, shape); err != nil {
		return nil, err
	}

	type_, err := read[uint32](r)
	if err != nil {
		return nil, err
	}

	offset, err := read[uint64](r)
	if err != nil {
		return nil, err
	}

	return &Tensor{Name: name, Shape: shape, Type: TensorType(type_), Offset: offset}, nil
}

// readKeyValue liest ein einzelnes Key-Value Paar
func readKeyValue(r io.Reader) (string, any, error) {
	key, err := readString(r)
	if err != nil {
		return "", nil, err
	}

	t, err := read[uint32](r)
	if err != nil {
		return "", nil, err
	}

	value, err := readValue(r, t)
	if err != nil {
		return "", nil, fmt.Errorf("key %s: %w", key, err)
	}
	return key, value, nil
}

func readValue(r io.Reader, t uint32) (any, error) {
	switch t {
	case typeUint8:
		return read[uint8](r)
	case typeInt8:
		return read[int8](r)
	case typeUint16:
		return read[uint16](r)
	case typeInt16:
		return read[int16](r)
	case typeUint32:
		return read[uint32](r)
	case typeInt32:
		return read[int32](r)
	case typeUint64:
		return read[uint64](r)
	case typeInt64:
		return read[int64](r)
	case typeFloat32:
		return read[float32](r)
	case typeFloat64:
		return read[float64](r)
	case typeBool:
		return read[bool](r)
	case typeString:
		return readString(r)
	case typeArray:
		return readArray(r)
	}
	return nil, fmt.Errorf("%w: %d", ErrType, t)
}

// read liest einen typisierten Wert
func read[T any](r io.Reader) (T, error) {
	var t T
	err := binary.Read(r, binary.LittleEndian, &t)
	return t, err
}

// readString liest einen laengen-praefixierten String
func readString(r io.Reader) (string, error) {
	n, err := read[uint64](r)
	if err != nil {
		return "", err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readArray liest ein Array mit Element-Typ
func readArray(r io.Reader) (any, error) {
	t, err := read[uint32](r)
	if err != nil {
		return nil, err
	}
	n, err := read[uint64](r)
	if err != nil {
		return nil, err
	}

	switch t {
	case typeString:
		out := make([]string, n)
		for i := range out {
			if out[i], err = readString(r); err != nil {
				return nil, err
			}
		}
		return out, nil
	case typeFloat32:
		return readArrayData[float32](r, n)
	case typeInt32:
		return readArrayData[int32](r, n)
	case typeUint64:
		return readArrayData[uint64](r, n)
	}
	return nil, fmt.Errorf("%w: array of %d", ErrType, t)
}

// readArrayData liest n Elemente vom Typ T
func readArrayData[T any](r io.Reader, n uint64) ([]T, error) {
	out := make([]T, n)
	err := binary.Read(r, binary.LittleEndian, out)
	return out, err
}
