package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	offlineFlag bool
	verboseFlag bool
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "tallybill",
	Short: "Offline-first billing terminal",
	Long: "Manage inventory and bills against a billing backend.\n" +
		"Every change is applied locally first and replayed to the backend when it is reachable.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verboseFlag {
			log.SetOutput(io.Discard)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "work offline; changes stay queued locally")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log sync activity to stderr")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.tallybill/config.toml)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
