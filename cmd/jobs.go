package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/luma/bean/client"
	"github.com/luma/bean/protocol"
)

var (
	tube      string
	priority  uint32
	delay     time.Duration
	ttr       time.Duration
	timeout   time.Duration
	andDelete bool
	peekState string
	kickJob   uint64
)

var PutCmd = &cobra.Command{
	Use:   "put [body]",
	Short: "Put a job into a tube",
	Long: `Put a job into a tube and print its id. Without a body argument the
body is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body []byte
		if len(args) == 1 {
			body = []byte(args[0])
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			body = b
		}

		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := useTube(ctx, c); err != nil {
				return err
			}

			id, err := c.Put(ctx, body, priority, delay, ttr)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var ReserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve a job and print it",
	Long: `Reserve a job from a tube and print its id and body. A negative
timeout waits until a job is available.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if tube != "" {
				if _, err := c.Watch(ctx, tube); err != nil {
					return err
				}
				if tube != "default" {
					if _, err := c.Ignore(ctx, "default"); err != nil {
						return err
					}
				}
			}

			var (
				job protocol.Job
				err error
			)
			if timeout < 0 {
				job, err = c.Reserve(ctx)
			} else {
				job, err = c.ReserveWithTimeout(ctx, timeout)
			}
			if err != nil {
				return err
			}

			printJob(cmd.OutOrStdout(), job)

			if andDelete {
				return c.Delete(ctx, job.ID)
			}
			return nil
		})
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			for _, id := range ids {
				if err := c.Delete(ctx, id); err != nil {
					return fmt.Errorf("deleting job %d: %w", id, err)
				}
			}
			return nil
		})
	},
}

var PeekCmd = &cobra.Command{
	Use:   "peek [id]",
	Short: "Show a job without reserving it",
	Long: `Show the job with the given id, or the next ready, delayed or buried
job of a tube.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			var (
				job   protocol.Job
				found bool
				err   error
			)

			if len(args) == 1 {
				id, perr := strconv.ParseUint(args[0], 10, 64)
				if perr != nil {
					return fmt.Errorf("job id %q: %w", args[0], perr)
				}
				job, found, err = c.Peek(ctx, id)
			} else {
				if err := useTube(ctx, c); err != nil {
					return err
				}

				switch peekState {
				case "ready":
					job, found, err = c.PeekReady(ctx)
				case "delayed":
					job, found, err = c.PeekDelayed(ctx)
				case "buried":
					job, found, err = c.PeekBuried(ctx)
				default:
					return fmt.Errorf("unknown job state %q", peekState)
				}
			}
			if err != nil {
				return err
			}

			if !found {
				fmt.Fprintln(cmd.ErrOrStderr(), "no job found")
				return nil
			}

			printJob(cmd.OutOrStdout(), job)
			return nil
		})
	},
}

var KickCmd = &cobra.Command{
	Use:   "kick [bound]",
	Short: "Move buried or delayed jobs back to the ready queue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bound := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("kick bound %q is not a positive number", args[0])
			}
			bound = n
		}

		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if kickJob != 0 {
				return c.KickJob(ctx, kickJob)
			}

			if err := useTube(ctx, c); err != nil {
				return err
			}

			n, err := c.Kick(ctx, bound)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{PutCmd, ReserveCmd, PeekCmd, KickCmd} {
		c.Flags().StringVarP(&tube, "tube", "t", "", "The tube to use, default when empty")
	}

	flags := PutCmd.Flags()
	flags.Uint32Var(&priority, "pri", 1024, "The job priority, lower is more urgent")
	flags.DurationVar(&delay, "delay", 0, "How long to wait before the job is ready")
	flags.DurationVar(&ttr, "ttr", time.Minute, "How long a worker may hold the job")

	flags = ReserveCmd.Flags()
	flags.DurationVar(&timeout, "timeout", -1, "How long to wait for a job")
	flags.BoolVar(&andDelete, "delete", false, "Delete the job once it is printed")

	PeekCmd.Flags().StringVar(&peekState, "state", "ready", "Which job to peek at: ready, delayed or buried")

	KickCmd.Flags().Uint64Var(&kickJob, "job", 0, "Kick this job only")
}

func useTube(ctx context.Context, c *client.Client) error {
	if tube == "" {
		return nil
	}
	_, err := c.Use(ctx, tube)
	return err
}

func printJob(w io.Writer, job protocol.Job) {
	fmt.Fprintf(w, "%d\t%s\n", job.ID, job.Body)
}

func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("job id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
