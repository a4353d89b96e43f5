// Package configs holds the configuration templates shipped with the binary.
//
// Templates are embedded at build time so that every distribution can
// write them:
//   - mapview.example.yaml: written by `mapview config init` as .mapview.yaml
package configs

import _ "embed"

// ExampleConfig is the project configuration written by `mapview config init`.
//
//go:embed mapview.example.yaml
var ExampleConfig string
