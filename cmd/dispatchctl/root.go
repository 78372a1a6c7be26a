// dispatchctl drives the dispatch API from a terminal: pair sessions,
// queue broadcast jobs and follow their progress.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "Command line client for the WhatsApp dispatch service",
	Long: `dispatchctl talks to a running dispatch service over HTTP.
It connects sessions, submits broadcast jobs and reports their progress.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultServerURL() string {
	if u := os.Getenv("DISPATCH_API_URL"); u != "" {
		return u
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "2121"
	}
	return "http://localhost:" + port
}

func apiClient() *DispatchClient {
	return NewDispatchClient(serverURL, timeout)
}

func init() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "Dispatch API base URL (env DISPATCH_API_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(jobCmd)
}
