package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReportMarker delimits the region of an existing markdown file that
// WriteOutput replaces with a fresh report.
const ReportMarker = "report"

// WriteOutput writes content to path atomically. When path is an existing
// markdown file holding depwise report markers, only the region between the
// markers is replaced.
func WriteOutput(path, content string) error {
	if strings.EqualFold(filepath.Ext(path), ".md") {
		if existing, err := os.ReadFile(path); err == nil && hasMarkers(string(existing), ReportMarker) {
			next, err := ReplaceBetweenMarkers(string(existing), ReportMarker, content)
			if err != nil {
				return err
			}
			content = next
		}
	}
	return writeAtomic(path, content)
}

func writeAtomic(filePath, content string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".depwise-report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", filePath, err)
	}
	tmpName := tmp.Name()

	writeErr := error(nil)
	if _, err := tmp.WriteString(content); err != nil {
		writeErr = fmt.Errorf("write temp report file %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close temp report file %q: %w", tmpName, err)
	}
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return writeErr
	}

	if err := os.Rename(tmpName, filePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace report file %q: %w", filePath, err)
	}
	return nil
}

func markerPair(marker string) (string, string) {
	return fmt.Sprintf("<!-- depwise:%s:start -->", marker), fmt.Sprintf("<!-- depwise:%s:end -->", marker)
}

func hasMarkers(content, marker string) bool {
	start, end := markerPair(marker)
	return strings.Contains(content, start) && strings.Contains(content, end)
}

func ReplaceBetweenMarkers(content, marker, replacement string) (string, error) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return "", fmt.Errorf("markdown marker must not be empty")
	}

	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}

	start, end := markerPair(marker)
	if strings.Count(content, start) != 1 || strings.Count(content, end) != 1 {
		return "", fmt.Errorf("markdown marker %q must appear exactly once for start and end", marker)
	}

	startIdx := strings.Index(content, start)
	endIdx := strings.Index(content, end)
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid marker order for %q", marker)
	}

	prefix := content[:startIdx+len(start)]
	suffix := content[endIdx:]
	cleanReplacement := strings.TrimRight(replacement, "\r\n")

	return prefix + newline + cleanReplacement + newline + suffix, nil
}
