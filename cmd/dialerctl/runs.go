package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acme/power-dialer/pkg/client"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Manage dialer runs"}
	cmd.AddCommand(runCreateCmd())
	cmd.AddCommand(runListCmd())
	cmd.AddCommand(runShowCmd())
	cmd.AddCommand(runStartCmd())
	cmd.AddCommand(runActionCmd("pause", "Pause dialing; in-flight lines finish", (*client.Client).PauseRun))
	cmd.AddCommand(runActionCmd("resume", "Resume a paused run", (*client.Client).ResumeRun))
	cmd.AddCommand(runActionCmd("stop", "Stop a run and discard in-flight attempts", (*client.Client).StopRun))
	cmd.AddCommand(runConcurrencyCmd())
	cmd.AddCommand(runDeleteCmd())
	return cmd
}

func bindStartFlags(cmd *cobra.Command, req *client.StartRunRequest) {
	cmd.Flags().StringVar(&req.ListID, "list", "", "contact list id")
	cmd.Flags().IntVar(&req.Concurrency, "concurrency", 1, "lines dialed per batch")
	cmd.Flags().StringVar(&req.CallerIDStrategy, "caller-id-strategy", "round_robin", "round_robin, random or single_number")
	cmd.Flags().StringSliceVar(&req.CallerIDs, "caller-id", nil, "caller id number (repeatable)")
	cmd.Flags().StringVar(&req.Script, "script", "", "call script template")
}

func runCreateCmd() *cobra.Command {
	var req client.StartRunRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a run; with --list it starts dialing at once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				var start *client.StartRunRequest
				if req.ListID != "" {
					start = &req
				}
				run, err := c.CreateRun(ctx, start)
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
	bindStartFlags(cmd, &req)
	return cmd
}

func runStartCmd() *cobra.Command {
	var req client.StartRunRequest
	cmd := &cobra.Command{
		Use:   "start <run-id>",
		Short: "Start an idle run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				run, err := c.StartRun(ctx, args[0], req)
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
	bindStartFlags(cmd, &req)
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func runActionCmd(use, short string, action func(*client.Client, context.Context, string) (*client.Run, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				run, err := action(c, ctx, args[0])
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
}

func runConcurrencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "concurrency <run-id> <n>",
		Short: "Change the number of lines dialed per batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid concurrency %q", args[1])
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				run, err := c.SetConcurrency(ctx, args[0], n)
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
}

func runShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its lines and queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				run, err := c.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
}

func runListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				runs, err := c.ListRuns(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "List", "Status", "Concurrency", "Batches", "Queue", "Started"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.ListID, statusText(r.Status), r.Concurrency, r.Batches, r.Queue.Depth, formatTime(r.StartedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func runDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Close a run and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func linesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "lines", Short: "Act on the lines of a run"}
	cmd.AddCommand(lineHangupCmd())
	cmd.AddCommand(lineResolveCmd())
	return cmd
}

func lineHangupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hangup <run-id> <slot>",
		Short: "End the call on a line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				line, err := c.Hangup(ctx, args[0], slot)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(line)
				}
				printLines([]client.Line{*line})
				return nil
			})
		},
	}
}

func lineResolveCmd() *cobra.Command {
	var tag, notes string
	cmd := &cobra.Command{
		Use:   "resolve <run-id> <slot>",
		Short: "Record the disposition of the line holding the operator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				res, err := c.Resolve(ctx, args[0], slot, tag, notes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println("disposition", res.DispositionID)
				if res.Warning != "" {
					fmt.Println(warnStyle.Render("warning: " + res.Warning))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "interested, not_interested, callback, no_answer, voicemail or other")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func eventsCmd() *cobra.Command {
	var opts client.PageOptions
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "List line transitions of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				page, err := c.Events(ctx, args[0], opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Batch", "Slot", "Status", "Phone", "Caller ID", "Attempts", "Reason"})
				for _, ev := range page.Events {
					tw.AppendRow(table.Row{formatTime(&ev.OccurredAt), ev.Batch, ev.Slot, statusText(ev.Status), ev.Phone, ev.CallerID, ev.Attempts, ev.Reason})
				}
				tw.Render()
				printNextPage(page.NextPage)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "page size")
	cmd.Flags().StringVar(&opts.Token, "page-token", "", "page token from a previous call")
	return cmd
}

func presenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence",
		Short: "Show whether any run is dialing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				p, err := c.Presence(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				if !p.Active {
					fmt.Println(mutedStyle.Render("not dialing"))
					return nil
				}
				fmt.Println(okStyle.Render("dialing"), p.Runs)
				return nil
			})
		},
	}
}

func parseSlot(raw string) (int, error) {
	slot, err := strconv.Atoi(raw)
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid line slot %q", raw)
	}
	return slot, nil
}
