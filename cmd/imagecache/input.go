package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/prepdash/imagecache/extract"
)

var (
	// Extraction flags, shared by extract and preload.
	jsonInput bool
	hosts     []string
	anyHost   bool
)

func addExtractFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonInput, "json-input", false, "treat the input as a question JSON document")
	cmd.Flags().StringSliceVar(&hosts, "hosts", nil, "additional image hosts to accept besides S3")
	cmd.Flags().BoolVar(&anyHost, "any-host", false, "accept images from any http(s) host")
}

// matcher returns the origin filter selected by the extraction flags.
func matcher() extract.Matcher {
	switch {
	case anyHost:
		return extract.All
	case len(hosts) > 0:
		return extract.Any(extract.S3, extract.Hosts(hosts...))
	case useGCS:
		return extract.Any(extract.S3, extract.GCS)
	}
	return extract.S3
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return data, nil
}

// extractURLs returns the image URLs in path according to the extraction
// flags.
func extractURLs(cmd *cobra.Command, path string) ([]string, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	if jsonInput {
		urls, err := extract.FromJSON(data, matcher())
		if err != nil {
			return nil, fmt.Errorf("parsing question document: %w", err)
		}
		return urls, nil
	}
	return extract.ImageURLs(string(data), matcher()), nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
