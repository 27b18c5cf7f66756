package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/execution-hub/serial-reservation/internal/config"
	"github.com/execution-hub/serial-reservation/pkg/client"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool usage and live reservations of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		if category == "" {
			category = viper.GetString(config.DefaultCategoryKey)
		}
		cli := client.New(viper.GetString(serverURLKey))

		stats, err := cli.Stats(cmd.Context(), category)
		if err != nil {
			return fmt.Errorf("fetching stats: %w", err)
		}
		low, err := cli.LowStock(cmd.Context(), category)
		if err != nil {
			logger.Debug().Err(err).Msg("low stock check unavailable")
			low = nil
		}
		renderStats(cmd.OutOrStdout(), stats, low, time.Now())
		return nil
	},
}

func renderStats(w io.Writer, stats *client.Stats, low *client.LowStock, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Pool " + stats.Category)
	t.AppendHeader(table.Row{"Stored", "Available", "Reserved", "Consumed", "Sessions", "Stock"})

	stock := "n/a"
	if low != nil {
		stock = color.GreenString("ok")
		if low.Low {
			stock = color.RedString("LOW (%s)", low.Rule)
		}
	}
	stored := 0
	if stats.Stored != nil {
		stored = stats.Stored.Total
	}
	t.AppendRow(table.Row{
		humanize.Comma(int64(stored)),
		humanize.Comma(int64(stats.Live.Available)),
		humanize.Comma(int64(stats.Live.Reserved)),
		humanize.Comma(int64(stats.Live.Consumed)),
		stats.Sessions,
		stock,
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(stats.Reservations) == 0 {
		return
	}
	r := table.NewWriter()
	r.SetOutputMirror(w)
	r.AppendHeader(table.Row{"Token", "Reserved By", "Name", "Since"})
	for _, tok := range stats.Reservations {
		by, name, since := "", "", "unknown"
		if tok.ReservedBy != nil {
			by = *tok.ReservedBy
		}
		if tok.ReservedByName != nil {
			name = *tok.ReservedByName
		}
		if tok.ReservedAt != nil {
			since = humanize.RelTime(*tok.ReservedAt, now, "ago", "from now")
		}
		r.AppendRow(table.Row{color.New(color.Bold).Sprint(tok.ID), by, name, since})
	}
	r.SetStyle(table.StyleLight)
	r.Render()
}

func init() {
	statsCmd.Flags().StringP("category", "c", "", "Category (default from config)")
	rootCmd.AddCommand(statsCmd)
}
