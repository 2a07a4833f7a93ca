package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/acme/power-dialer/pkg/client"
)

func listsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "lists", Short: "Manage contact lists"}
	cmd.AddCommand(listImportCmd())
	cmd.AddCommand(listShowCmd())
	cmd.AddCommand(listDispositionsCmd())
	cmd.AddCommand(listRunsCmd())
	return cmd
}

func listRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <list-id>",
		Short: "List archived runs of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				runs, err := c.ListArchivedRuns(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Concurrency", "Batches", "Remaining", "Exhausted", "Finished"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, statusText(r.Status), r.Concurrency, r.Batches, r.Queue.Depth, r.Queue.Exhausted, formatTime(r.FinishedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func listImportCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a contact list from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readListFile(args[0])
			if err != nil {
				return err
			}
			if name != "" {
				req.Name = name
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				list, err := c.CreateList(ctx, req)
				if err != nil {
					return err
				}
				return printList(list)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "list name (overrides the file)")
	return cmd
}

func listShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <list-id>",
		Short: "Show a contact list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				list, err := c.GetList(ctx, args[0])
				if err != nil {
					return err
				}
				return printList(list)
			})
		},
	}
}

func listDispositionsCmd() *cobra.Command {
	var opts client.PageOptions
	cmd := &cobra.Command{
		Use:   "dispositions <list-id>",
		Short: "List recorded dispositions of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				page, err := c.ListDispositions(ctx, args[0], opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Resolved", "Contact", "Phone", "Tag", "Caller ID", "Notes"})
				for _, d := range page.Dispositions {
					contact := d.ContactID
					if d.Line.Contact != nil {
						contact = d.Line.Contact.Name
					}
					tw.AppendRow(table.Row{formatTime(&d.ResolvedAt), contact, d.Line.PhoneNumber, d.Tag, d.CallerID, d.Notes})
				}
				tw.Render()
				printNextPage(page.NextPage)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&opts.Token, "page-token", "", "page token from a previous call")
	return cmd
}

func readListFile(path string) (client.CreateListRequest, error) {
	var req client.CreateListRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(req.Name) == "" {
		base := filepath.Base(path)
		req.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return req, nil
}

func printList(list *client.List) error {
	if viper.GetBool("json") {
		return printJSON(list)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Contacts", "Created"})
	tw.AppendRow(table.Row{list.ID, list.Name, list.Size, formatTime(&list.CreatedAt)})
	tw.Render()
	return nil
}
