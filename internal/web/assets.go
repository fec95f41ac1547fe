package web

import "embed"

// Templates holds the page layouts and pages
//
//go:embed templates
var Templates embed.FS

// Static holds the stylesheet served under /static/
//
//go:embed static
var Static embed.FS
