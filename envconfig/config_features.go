// config_features.go - Feature-Flags
//
// Dieses Modul enthaelt:
// - NoProgress: unterdrueckt Fortschrittszeilen auch auf einem Terminal
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

// NoProgress deaktiviert die Fortschrittsausgabe im Training
var NoProgress = Bool("NOISYCLIP_NO_PROGRESS")
