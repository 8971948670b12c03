package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourusername/shape-forge/internal/shapefile"
)

var errValidationFailed = errors.New("one or more archives failed validation")

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate ARCHIVE.zip...",
		Short: "Check that every .shp in the archives has its .shx and .dbf",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var rows [][]string
			failed := false
			for _, archive := range args {
				archiveRows, ok := validateArchive(archive)
				rows = append(rows, archiveRows...)
				if !ok {
					failed = true
				}
			}
			writeValidation(out, rows)
			if failed {
				return errValidationFailed
			}
			return nil
		},
	}
}

// validateArchive は一つの ZIP を検査して表示用の行を返します。
func validateArchive(archive string) ([][]string, bool) {
	name := filepath.Base(archive)
	report, err := shapefile.ValidateZip(archive)
	switch {
	case errors.Is(err, shapefile.ErrNoSourceFiles):
		return [][]string{{name, "-", "-", "-", "NO_SOURCE_FILES"}}, false
	case err != nil && report == nil:
		return [][]string{{name, "-", "-", "-", "ERROR: " + err.Error()}}, false
	}

	rows := make([][]string, 0, len(report.Sets))
	for _, set := range report.Sets {
		status := "OK"
		if !set.Complete() {
			status = "INCOMPLETE"
		}
		rows = append(rows, []string{
			name,
			set.Primary,
			joinOrDash(set.Found),
			joinOrDash(set.Missing),
			status,
		})
	}
	return rows, err == nil
}

func writeValidation(out io.Writer, rows [][]string) {
	if isTerminal(out) {
		fmt.Fprintln(out, renderTable([]string{"Archive", "Source", "Found", "Missing", "Status"}, rows))
		return
	}
	for _, row := range rows {
		fmt.Fprintln(out, strings.Join(row, "\t"))
	}
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
