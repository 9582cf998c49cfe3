// Package web holds the display client served at "/": a single page that
// lists the catalog targets, opens a direction overlay over the WebSocket
// and dismisses it on touch.
package web

import "embed"

// FS contains all embedded web assets (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
