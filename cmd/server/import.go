package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/execution-hub/serial-reservation/internal/config"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
	"github.com/execution-hub/serial-reservation/pkg/client"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import serial numbers into a category on a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		category, _ := cmd.Flags().GetString("category")
		manufacturer, _ := cmd.Flags().GetString("manufacturer")
		actor, _ := cmd.Flags().GetString("actor")
		if category == "" {
			category = viper.GetString(config.DefaultCategoryKey)
		}

		var in io.Reader = os.Stdin
		if path != "" && path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			in = f
		}
		serials, err := readSerials(in)
		if err != nil {
			return err
		}
		if len(serials) == 0 {
			return fmt.Errorf("no serial numbers in input")
		}

		cli := client.New(viper.GetString(serverURLKey), client.WithActor(actor))
		res, err := cli.Import(cmd.Context(), token.ImportInput{
			Category:      category,
			SerialNumbers: serials,
			Manufacturer:  manufacturer,
			CreatedBy:     actor,
		})
		if err != nil {
			return fmt.Errorf("importing: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: imported %s, skipped %s existing\n",
			res.Category, humanize.Comma(int64(len(res.Imported))), humanize.Comma(int64(len(res.Skipped))))
		return nil
	},
}

// readSerials accepts one serial per line or comma separated values.
// Lines starting with # are comments.
func readSerials(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.Split(line, ",")...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading serials: %w", err)
	}
	return token.CleanSerials(out), nil
}

func init() {
	importCmd.Flags().StringP("file", "f", "", "File with serial numbers (default stdin)")
	importCmd.Flags().StringP("category", "c", "", "Target category (default from config)")
	importCmd.Flags().String("manufacturer", "", "Manufacturer recorded with each serial")
	importCmd.Flags().String("actor", "cli", "Actor recorded as creator")
	rootCmd.AddCommand(importCmd)
}
