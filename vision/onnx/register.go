// MODUL: onnx/register
// ZWECK: Registriert den ONNX Backbone in der globalen Vision Registry
// NEBENEFFEKTE: Registriert "onnx" Factory bei Package-Import
// HINWEISE: Import mit _ "github.com/ollama/noisyclip/vision/onnx"

package onnx

import (
	"github.com/ollama/noisyclip/vision"
)

// Name ist der Registry-Name dieses Backends
const Name = "onnx"

func init() {
	vision.MustRegisterToDefault(Name, NewBackbone)
}
