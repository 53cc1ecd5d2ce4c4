// Package web holds the browser pages and scripts served by the API.
package web

import "embed"

// Static contains the static/ tree: HTML pages and js/ scripts.
//
//go:embed static
var Static embed.FS
