// Package web embeds the static index page served by alpar-server.
package web

import "embed"

// Dist holds the built static files.
//
//go:embed dist
var Dist embed.FS
