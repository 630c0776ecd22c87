package web

import "embed"

// Templates embeds HTML page and email templates.
//
//go:embed templates
var Templates embed.FS

// Static embeds static assets.
//
//go:embed static
var Static embed.FS
