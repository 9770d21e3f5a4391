package cmd

import (
	// Backbone-Registrierung via init()
	_ "github.com/ollama/noisyclip/vision/onnx"
	_ "github.com/ollama/noisyclip/vision/patchproj"
)
