// Package schemas holds the CUE schemas used to validate configuration files.
package schemas

import _ "embed"

// Harness is the CUE schema for the harness configuration file.
//
//go:embed harness.cue
var Harness []byte
