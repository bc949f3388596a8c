package web

import (
	"embed"
)

// staticFiles holds the embedded CSS and JS files.
//
//go:embed static/*
var staticFiles embed.FS

// templateFiles holds the HTML pages rendered with html/template.
//
//go:embed templates/*.html
var templateFiles embed.FS
