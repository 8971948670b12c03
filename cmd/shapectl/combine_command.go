package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yourusername/shape-forge/internal/kml"
)

func newCombineCommand() *cobra.Command {
	var outputPath string
	var title string

	cmd := &cobra.Command{
		Use:   "combine FILE.kml...",
		Short: "Merge the Placemarks of several KML files into one document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputs := make([]kml.Output, len(args))
			for i, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				outputs[i] = kml.Output{Name: filepath.Base(path), Content: string(data)}
			}

			combined := kml.Combine(outputs, kml.WithTitle(title))
			for _, w := range combined.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}

			if outputPath == "" || outputPath == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), combined.Content)
				return err
			}
			if err := os.WriteFile(outputPath, []byte(combined.Content), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outputPath, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d placemarks from %d files)\n", outputPath, combined.Placemarks, len(outputs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&title, "title", kml.DefaultTitle, "Document title")
	return cmd
}
