package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acme/power-dialer/pkg/client"
)

var rootCmd = &cobra.Command{
	Use:   "dialerctl",
	Short: "Operate power dialer runs",
	Long: `dialerctl drives a power dialer API server.
- Lists: import contact lists from YAML or JSON files and page through their dispositions.
- Runs: create, start, pause, resume, stop and resize dialer runs.
- Lines: hang up a connected call or record its disposition to release the next batch.
- Events: read the recorded line transitions of a run.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", describeError(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DIALERCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("server", "s", "http://localhost:8080", "dialer API base URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "request timeout")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func registerCommands() {
	rootCmd.AddCommand(listsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(linesCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(presenceCmd())
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c := client.New(viper.GetString("server"))
	c.Timeout = viper.GetDuration("timeout")
	return fn(cmd.Context(), c)
}

func describeError(err error) string {
	if apiErr, ok := err.(*client.APIError); ok {
		return fmt.Sprintf("%s (status %d)", apiErr.Message(), apiErr.StatusCode)
	}
	return err.Error()
}
