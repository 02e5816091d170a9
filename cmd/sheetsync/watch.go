package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/formcanvas/sheetsync"
	"github.com/formcanvas/sheetsync/pkg/dispatch"
)

var (
	flagWatchDuration time.Duration
	flagWatchJSON     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect and print events until interrupted",
	Long: `Connect to the agent endpoint, print every event as it is applied and
print the resulting tables on exit. The session reconnects on loss and pushes
sync_state after every reconnect.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := &printer{w: cmd.OutOrStdout()}

		client, err := newClient(func(c *sheetsync.Config) {
			c.OnEvent = out.event
			c.Notifier = dispatch.NotifierFunc(out.notify)
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if flagWatchDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, flagWatchDuration)
			defer cancel()
		}

		if err := client.Connect(ctx); err != nil {
			return err
		}
		out.printf("connected %s\n", client.URL())

		<-ctx.Done()

		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			return err
		}

		if flagWatchJSON {
			return out.json(client.Store())
		}
		out.tables(client.Store())
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&flagWatchDuration, "duration", 0, "stop after this long, 0 waits for an interrupt")
	watchCmd.Flags().BoolVar(&flagWatchJSON, "json", false, "print the final tables as JSON")
}
