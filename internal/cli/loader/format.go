package loader

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/cockroach/internal/attach"
)

// OutputFormat represents the output format type.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// ParseOutputFormat validates a --format value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (text, json, yaml)", s)
	}
}

// ReportFormatter renders a finished session.
type ReportFormatter interface {
	FormatReport(r attach.Report) (string, error)
}

// NewFormatter creates an output formatter for the given format.
func NewFormatter(format OutputFormat) ReportFormatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TextFormatter{}
	}
}

// TextFormatter formats output as human-readable text.
type TextFormatter struct{}

// FormatReport formats the report.
// nolint: errcheck
func (f *TextFormatter) FormatReport(r attach.Report) (string, error) {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Trap hit at %s\n\n", r.TrapAddr)

	w := tabwriter.NewWriter(&buf, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "Session ID:\t%s\n", r.SessionID)
	fmt.Fprintf(w, "PID:\t%d\n", r.PID)
	fmt.Fprintf(w, "Threads:\t%s\n", joinInts(r.Threads))
	fmt.Fprintf(w, "Hit by thread:\t%d\n", r.HitTID)
	fmt.Fprintf(w, "Original byte:\t%s\n", r.OriginalByte)
	fmt.Fprintf(w, "RIP at attach:\t%s\n", r.RIP)
	fmt.Fprintf(w, "RSP at attach:\t%s\n", r.RSP)
	fmt.Fprintf(w, "Recipe:\t%s\n", r.RecipePath)
	fmt.Fprintf(w, "Module:\t%s\n", r.LibPath)
	fmt.Fprintf(w, "Waited:\t%s\n", r.WaitedFor)
	w.Flush()

	return buf.String(), nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) FormatReport(r attach.Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatReport(r attach.Report) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return string(data), nil
}

// WriteOutput writes formatted output to w.
func WriteOutput(w io.Writer, output string) error {
	_, err := io.WriteString(w, output)
	return err
}
