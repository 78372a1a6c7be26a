package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var sessionID string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage WhatsApp sessions",
}

var sessionConnectCmd = &cobra.Command{
	Use:   "connect <userId>",
	Short: "Start or resume a session",
	Long: `Start a session for the user. A new session prints its pairing QR
code payload; a session with stored credentials restores silently.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := apiClient().Connect(cmd.Context(), args[0], sessionID)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		printSession(cmd.OutOrStdout(), info)
		return nil
	},
}

var sessionDisconnectCmd = &cobra.Command{
	Use:   "disconnect <userId>",
	Short: "Log out and remove a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().Disconnect(cmd.Context(), args[0], sessionID); err != nil {
			return fmt.Errorf("disconnect: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Session disconnected")
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <userId>",
	Short: "Show the state of one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := apiClient().Status(cmd.Context(), args[0], sessionID)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		printSession(cmd.OutOrStdout(), info)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list <userId>",
	Short: "List every session owned by a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := apiClient().ListSessions(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(infos) == 0 {
			fmt.Fprintln(out, "No sessions")
			return nil
		}
		for _, info := range infos {
			marker := " "
			if info.IsDefault {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-16s  %-11s  ready=%-5t  %s\n", marker, info.SessionID, info.State, info.Ready, info.JID)
		}
		return nil
	},
}

func printSession(out io.Writer, info SessionInfo) {
	fmt.Fprintf(out, "Session:  %s/%s\n", info.UserID, info.SessionID)
	fmt.Fprintf(out, "State:    %s", info.State)
	if info.Phase != "" {
		fmt.Fprintf(out, " (%s)", info.Phase)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Ready:    %t\n", info.Ready)
	if info.JID != "" {
		fmt.Fprintf(out, "JID:      %s\n", info.JID)
	}
	if info.Retries > 0 {
		fmt.Fprintf(out, "Retries:  %d\n", info.Retries)
	}
	if info.LastError != "" {
		fmt.Fprintf(out, "Error:    %s\n", info.LastError)
	}
	if info.PendingQR != "" {
		fmt.Fprintf(out, "QR:       %s\n", info.PendingQR)
	}
}

func init() {
	for _, c := range []*cobra.Command{sessionConnectCmd, sessionDisconnectCmd, sessionStatusCmd} {
		c.Flags().StringVar(&sessionID, "session", "", "Session id (defaults to the user's default session)")
		sessionCmd.AddCommand(c)
	}
	sessionCmd.AddCommand(sessionListCmd)
}
