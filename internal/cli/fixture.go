package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/matchload/internal/fixture"
)

func newFixtureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixture [path]",
		Short: "Load a fixture and summarize it",
		Long: `Parse a compound fixture the same way a test run would and print its size,
columns and a sample row. The default path is ` + fixture.DefaultPath + `.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fixture.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			skipIncomplete, _ := cmd.Flags().GetBool("skip-incomplete")

			set, err := fixture.Load(path, fixture.Options{SkipIncomplete: skipIncomplete})
			if err != nil {
				return fmt.Errorf("failed to load fixture: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Fixture:  %s\n", set.Path())
			fmt.Fprintf(w, "Rows:     %s\n", humanize.Comma(int64(set.Len())))
			if set.Skipped() > 0 {
				fmt.Fprintf(w, "Skipped:  %s\n", humanize.Comma(int64(set.Skipped())))
			}
			fmt.Fprintf(w, "Columns:  %s\n", strings.Join(set.Header(), ", "))

			row := set.Row(0)
			fmt.Fprintln(w, "Sample:")
			for _, f := range fixture.RequiredFields {
				fmt.Fprintf(w, "  %-17s %s\n", f, row.Get(f))
			}
			return nil
		},
	}

	cmd.Flags().Bool("skip-incomplete", false, "Drop rows with an empty identifier instead of failing")
	return cmd
}
