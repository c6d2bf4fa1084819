package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract FILE",
	Short: "List the cacheable image URLs referenced by a document",
	Long: `Scan a markdown or HTML document for image references and print the
de-duplicated URLs that the cache would preload. Use "-" to read stdin.

By default only S3 URLs are printed.

Examples:
  imagecache extract lesson.md
  imagecache extract --json-input question.json
  imagecache extract --hosts cdn.example.com page.html`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	addExtractFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	urls, err := extractURLs(cmd, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, u := range urls {
		fmt.Fprintln(out, u)
	}
	return nil
}
