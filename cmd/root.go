package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/bean/client"
	"github.com/luma/bean/cmd/gen"
	"github.com/luma/bean/internal/env"
	"github.com/luma/bean/internal/meta"
)

var (
	conf *env.Config
	log  *zap.Logger

	// Overrides for the environment, see env.Config
	addr        string
	debug       bool
	dialTimeout time.Duration
)

var RootCmd = &cobra.Command{
	Use:   "bean",
	Short: "A client and development server for beanstalk work queues",
	Long: `A client and development server for beanstalk work queues.

The server address and logging are configured with BEAN_ADDR, BEAN_DEBUG,
BEAN_DEBUG_HTTP and BEAN_DIAL_TIMEOUT, optionally loaded from .env.local.
Flags take precedence over the environment.`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		conf, err = env.LoadConfig(cmd.Context())
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("addr") {
			conf.Addr = addr
		}
		if flags.Changed("debug") {
			conf.Debug = debug
		}
		if flags.Changed("dial-timeout") {
			conf.DialTimeout = dialTimeout
		}

		log, err = env.MakeLogger(conf.Debug)
		return err
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo())
	},
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVar(&addr, "addr", "127.0.0.1:11300", "The address of the work queue server")
	flags.BoolVar(&debug, "debug", false, "Log at debug level")
	flags.DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "How long to wait for a connection")

	RootCmd.AddCommand(
		ServeCmd,
		PutCmd,
		ReserveCmd,
		DeleteCmd,
		PeekCmd,
		KickCmd,
		StatsCmd,
		TubesCmd,
		versionCmd,
		gen.RootCmd,
	)
}

// Execute runs the command line and exits with a non-zero status on error.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// withClient connects to the configured server for the duration of fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) (err error) {
	ctx := cmd.Context()

	conn, err := client.Dial(ctx, client.Options{
		Addr:        conf.Addr,
		DialTimeout: conf.DialTimeout,
		Log:         log.Named("client"),
	})
	if err != nil {
		return err
	}

	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, client.NewClient(conn))
}
