// config.go - Prozess-Konfiguration fuer noisyclip via Environment
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (NOISYCLIP_DEBUG)
// - Devices: Ueberschreibt die Anzahl Replikas (NOISYCLIP_DEVICES)
// - Threads: Intra-Op Threads fuer das Backbone (NOISYCLIP_THREADS)
// - OrtLibrary: Pfad zur onnxruntime Shared Library (NOISYCLIP_ORT_LIBRARY)
// - Var: Liest und bereinigt eine Environment-Variable
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via NOISYCLIP_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("NOISYCLIP_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Devices gibt die Anzahl der Replikas zurueck, 0 bedeutet "aus Run-Config"
// Konfigurierbar via NOISYCLIP_DEVICES
var Devices = Uint("NOISYCLIP_DEVICES", 0)

// Threads gibt die Anzahl Intra-Op Threads fuer das Backbone zurueck
// Konfigurierbar via NOISYCLIP_THREADS
// Default: Anzahl CPU-Kerne
func Threads() int {
	if n := Uint("NOISYCLIP_THREADS", 0)(); n > 0 {
		return int(n)
	}
	return runtime.NumCPU()
}

// OrtLibrary gibt den Pfad zur onnxruntime Shared Library zurueck
// Konfigurierbar via NOISYCLIP_ORT_LIBRARY
// Leer bedeutet: Default-Suchpfad von onnxruntime_go
var OrtLibrary = String("NOISYCLIP_ORT_LIBRARY")

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
