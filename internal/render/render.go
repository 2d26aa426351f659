// Package render builds the plain-text stage reports and console tables.
package render

import (
	"fmt"
	"os"
	"path/filepath"

	"dora/internal/core"
)

// DefaultOutputDir is used when no output directory is configured.
const DefaultOutputDir = "reports"

// ClusterReportName is the report file of a clustering run.
func ClusterReportName(scope core.Scope) string {
	return fmt.Sprintf("clusters_%s_report.txt", scope.Slug())
}

// GroupingReportName is the report file of a grouping run.
func GroupingReportName(scope core.Scope) string {
	return fmt.Sprintf("semantic_groups_%s_report.txt", scope.Slug())
}

// WriteReport writes content to outputDir/filename, creating the directory.
func WriteReport(content, outputDir, filename string) (string, error) {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	err := os.MkdirAll(outputDir, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	filePath := filepath.Join(outputDir, filename)

	err = os.WriteFile(filePath, []byte(content), 0644)
	if err != nil {
		return "", fmt.Errorf("failed to write report file %s: %w", filePath, err)
	}

	return filePath, nil
}
