package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/formcanvas/sheetsync"
	"github.com/formcanvas/sheetsync/pkg/dispatch"
	"github.com/formcanvas/sheetsync/pkg/protocol"
	"github.com/formcanvas/sheetsync/pkg/task"
)

const defaultSubmitWait = 2 * time.Minute

var (
	flagSubmitType  string
	flagSubmitTable string
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Upload a file and print the rows it produces",
	Long: `Upload a file to the agent's task endpoint while connected, then print the
streamed events until the task finishes or --wait expires. Partial rows are
kept when the wait expires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := task.Type(flagSubmitType)
		if !typ.Valid() {
			return fmt.Errorf("%w: %q", task.ErrInvalidType, flagSubmitType)
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		out := &printer{w: cmd.OutOrStdout()}
		finished := make(chan protocol.TaskFinishEvent, 1)

		client, err := newClient(func(c *sheetsync.Config) {
			c.OnEvent = func(ev protocol.Event) {
				out.event(ev)
				if e, ok := ev.(protocol.TaskFinishEvent); ok {
					select {
					case finished <- e:
					default:
					}
				}
			}
			c.Notifier = dispatch.NotifierFunc(out.notify)
		})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		}()

		res, err := client.SubmitTask(ctx, typ, flagSubmitTable, filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		out.printf("submitted task=%s table=%s status=%s\n", res.TaskID, res.TableID, res.Status)

		wait := durationOr(cfg, "wait", defaultSubmitWait)
		timer := time.NewTimer(wait)
		defer timer.Stop()

	loop:
		for {
			select {
			case e := <-finished:
				if e.TaskID == res.TaskID || e.TaskID == "" {
					break loop
				}
			case <-timer.C:
				out.printf("timed out after %v, keeping partial rows\n", wait)
				break loop
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		out.tables(client.Store())
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&flagSubmitType, "type", string(task.TypeExtract), "task type: extract, audio or chat")
	submitCmd.Flags().StringVar(&flagSubmitTable, "table", "", "stream rows into this table id")
	submitCmd.Flags().Duration("wait", defaultSubmitWait, "how long to wait for the task to finish")
	submitCmd.Flags().String(cfgKeyTaskURL, "", "task endpoint base URL (default: derived from --endpoint)")
	submitCmd.Flags().Duration(cfgKeyTaskTimeout, sheetsync.DefaultTaskTimeout, "upload timeout")
}
