package report

import (
	"depwise/internal/core/app"
	coreerr "depwise/internal/core/errors"
	"depwise/internal/shared/version"
	"depwise/internal/ui/report/formats"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatSARIF    = "sarif"
	FormatMarkdown = "markdown"
)

// Options tune rendering. Color only affects the text format.
type Options struct {
	Color     bool
	Verbosity string
}

// Render writes r to w in the named format.
func Render(w io.Writer, format string, r *app.Report, opts Options) error {
	out, err := Generate(format, r, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Generate renders r to a string.
func Generate(format string, r *app.Report, opts Options) (string, error) {
	if r == nil {
		return "", fmt.Errorf("render: nil report")
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return NewTextRenderer(opts.Color).Render(r), nil
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode json report: %w", err)
		}
		return string(data) + "\n", nil
	case FormatSARIF:
		data, err := formats.GenerateSARIF(r)
		if err != nil {
			return "", fmt.Errorf("encode sarif report: %w", err)
		}
		return string(data) + "\n", nil
	case FormatMarkdown:
		return formats.NewMarkdownGenerator().Generate(r, formats.MarkdownReportOptions{
			Version:             version.Version,
			Verbosity:           opts.Verbosity,
			TableOfContents:     true,
			CollapsibleSections: true,
		})
	}
	return "", coreerr.Configuration("unknown output format", "format", format)
}
