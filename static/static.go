// Package static embeds the HTML templates served by the web UI.
package static

import (
	"embed"
	"html/template"
)

//go:embed *.html
var files embed.FS

// Templates parses every embedded page
func Templates() (*template.Template, error) {
	return template.ParseFS(files, "*.html")
}
