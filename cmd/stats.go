package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/bean/client"
	"github.com/luma/bean/internal/render"
	"github.com/luma/bean/protocol"
)

var (
	statsTube string
	statsJob  uint64
	asJSON    bool
	getPath   string
)

var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print server, tube or job statistics",
	Long: `Print server, tube or job statistics.

Usage
	bean stats
	bean stats --tube emails --json
	bean stats --get current-jobs-ready

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			var (
				stats protocol.StatsMap
				err   error
			)

			switch {
			case statsJob != 0:
				stats, err = c.StatsJob(ctx, statsJob)
			case statsTube != "":
				stats, err = c.StatsTube(ctx, statsTube)
			default:
				stats, err = c.Stats(ctx)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if getPath != "" {
				v, ok, err := render.Get(stats, getPath)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no statistic matches %q", getPath)
				}
				fmt.Fprintln(out, v)
				return nil
			}

			if asJSON {
				doc, err := render.JSON(stats)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, doc)
				return nil
			}

			return render.Text(out, stats)
		})
	},
}

var TubesCmd = &cobra.Command{
	Use:   "tubes",
	Short: "List the tubes that exist on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			tubes, err := c.ListTubes(ctx)
			if err != nil {
				return err
			}

			for _, t := range tubes {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		})
	},
}

func init() {
	flags := StatsCmd.Flags()

	flags.StringVarP(&statsTube, "tube", "t", "", "Print the statistics of this tube")
	flags.Uint64Var(&statsJob, "job", 0, "Print the statistics of this job")
	flags.BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	flags.StringVar(&getPath, "get", "", "Print a single statistic, selected with a gjson path")
}
