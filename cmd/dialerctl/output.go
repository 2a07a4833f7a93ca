package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"github.com/acme/power-dialer/pkg/client"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
	mutedStyle = lipgloss.NewStyle().Faint(true)
)

// statusText colours run and line statuses.
func statusText(status string) string {
	switch status {
	case "running", "connected":
		return okStyle.Render(status)
	case "dialing", "ringing":
		return infoStyle.Render(status)
	case "paused", "no_answer", "busy", "voicemail":
		return warnStyle.Render(status)
	case "failed", "stopped":
		return errStyle.Render(status)
	case "idle", "ended", "completed":
		return mutedStyle.Render(status)
	}
	return status
}

func printRun(run *client.Run) error {
	if viper.GetBool("json") {
		return printJSON(run)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"Run", run.ID})
	tw.AppendRow(table.Row{"List", run.ListID})
	tw.AppendRow(table.Row{"Status", statusText(run.Status)})
	tw.AppendRow(table.Row{"Concurrency", run.Concurrency})
	tw.AppendRow(table.Row{"Caller IDs", strings.Join(run.CallerIDs, ", ") + " (" + run.CallerIDStrategy + ")"})
	tw.AppendRow(table.Row{"Batches", run.Batches})
	gate := "no"
	if run.AwaitingDisposition {
		gate = "yes"
		if run.GateSlot != nil {
			gate = fmt.Sprintf("yes (line %d)", *run.GateSlot)
		}
	}
	tw.AppendRow(table.Row{"Awaiting disposition", gate})
	tw.AppendRow(table.Row{"Queue", fmt.Sprintf("%d queued, %d fresh, %d attempted today, %d exhausted",
		run.Queue.Depth, run.Queue.Fresh, run.Queue.AttemptedToday, run.Queue.Exhausted)})
	tw.AppendRow(table.Row{"Started", formatTime(run.StartedAt)})
	if run.FinishedAt != nil {
		tw.AppendRow(table.Row{"Finished", formatTime(run.FinishedAt)})
	}
	tw.Render()

	if len(run.Lines) > 0 {
		printLines(run.Lines)
	}
	for _, w := range run.Warnings {
		fmt.Println(warnStyle.Render("warning: " + w))
	}
	return nil
}

func printLines(lines []client.Line) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Slot", "Status", "Contact", "Phone", "Caller ID", "Batch", "Started"})
	for _, l := range lines {
		contact := ""
		if l.Contact != nil {
			contact = l.Contact.Name
			if l.Contact.Organization != "" {
				contact += " (" + l.Contact.Organization + ")"
			}
		}
		tw.AppendRow(table.Row{l.Slot, statusText(l.Status), contact, l.PhoneNumber, l.CallerID, l.Batch, formatTime(l.StartedAt)})
	}
	tw.Render()

	for _, l := range lines {
		if l.Script != "" && l.Status == "connected" {
			fmt.Println(infoStyle.Render(fmt.Sprintf("line %d script:", l.Slot)))
			fmt.Println(l.Script)
		}
	}
}

func printNextPage(token string) {
	if token != "" {
		fmt.Println(mutedStyle.Render("next page: --page-token " + token))
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
