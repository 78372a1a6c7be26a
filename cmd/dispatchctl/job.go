package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	jobUser      string
	jobSession   string
	jobDelay     int
	jobMessages  []string
	jobPhones    []string
	jobFollow    bool
	jobPollEvery time.Duration
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and track broadcast jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send messages to a list of phone numbers",
	Long: `Queue a job that sends every --message to every --to number.
Use "phone/secondary" to give a target a secondary number.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := buildTargets(jobPhones, jobMessages)
		if err != nil {
			return err
		}
		jobID, err := apiClient().SubmitJob(cmd.Context(), jobUser, jobSession, jobDelay, targets)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return reportJob(cmd, jobID)
	},
}

var jobImportCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Queue a job from a spreadsheet of targets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(jobMessages, "\n")
		jobID, err := apiClient().ImportJob(cmd.Context(), jobUser, jobSession, message, jobDelay, args[0])
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		return reportJob(cmd, jobID)
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show job progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobFollow {
			return followJob(cmd.Context(), cmd.OutOrStdout(), args[0])
		}
		info, err := apiClient().Job(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		printJob(cmd.OutOrStdout(), info)
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <jobId>",
	Short: "Stop a running job before its next target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().CancelJob(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
		return nil
	},
}

// buildTargets turns "phone" or "phone/secondary" entries into job targets.
func buildTargets(phones, messages []string) ([]JobTarget, error) {
	if len(phones) == 0 {
		return nil, fmt.Errorf("at least one --to number is required")
	}
	var msgs []string
	for _, m := range messages {
		if strings.TrimSpace(m) != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("at least one --message is required")
	}

	targets := make([]JobTarget, 0, len(phones))
	for _, p := range phones {
		primary, secondary, _ := strings.Cut(p, "/")
		primary = strings.TrimSpace(primary)
		secondary = strings.TrimSpace(secondary)
		if primary == "" && secondary == "" {
			continue
		}
		targets = append(targets, JobTarget{
			Phone:          primary,
			SecondaryPhone: secondary,
			Messages:       msgs,
		})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no usable phone numbers")
	}
	return targets, nil
}

func reportJob(cmd *cobra.Command, jobID string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s accepted\n", jobID)
	if !jobFollow {
		return nil
	}
	return followJob(cmd.Context(), out, jobID)
}

func followJob(ctx context.Context, out io.Writer, jobID string) error {
	last := -1
	info, err := apiClient().WaitJob(ctx, jobID, jobPollEvery, func(info JobInfo) {
		if info.Processed != last {
			last = info.Processed
			fmt.Fprintf(out, "  %d/%d processed (%d ok, %d failed)\n", info.Processed, info.Total, info.Succeeded, info.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	printJob(out, info)
	return nil
}

func printJob(out io.Writer, info JobInfo) {
	fmt.Fprintf(out, "Job:       %s\n", info.JobID)
	fmt.Fprintf(out, "Status:    %s\n", info.Status)
	fmt.Fprintf(out, "Progress:  %d/%d\n", info.Processed, info.Total)
	fmt.Fprintf(out, "Succeeded: %d\n", info.Succeeded)
	fmt.Fprintf(out, "Failed:    %d\n", info.Failed)
}

func init() {
	for _, c := range []*cobra.Command{jobSubmitCmd, jobImportCmd} {
		c.Flags().StringVar(&jobUser, "user", "", "Owner user id")
		c.Flags().StringVar(&jobSession, "session", "", "Session id (defaults to the user's default session)")
		c.Flags().IntVar(&jobDelay, "delay", 0, "Seconds to wait between targets")
		c.Flags().StringArrayVar(&jobMessages, "message", nil, "Message text, repeatable; supports {NAME}, {PHONE} and spintax")
		_ = c.MarkFlagRequired("user")
	}
	jobSubmitCmd.Flags().StringSliceVar(&jobPhones, "to", nil, "Target phone numbers, comma separated or repeated")
	_ = jobSubmitCmd.MarkFlagRequired("to")

	for _, c := range []*cobra.Command{jobSubmitCmd, jobImportCmd, jobStatusCmd} {
		c.Flags().BoolVar(&jobFollow, "follow", false, "Poll until the job finishes")
		c.Flags().DurationVar(&jobPollEvery, "poll", 2*time.Second, "Poll interval for --follow")
	}

	jobCmd.AddCommand(jobSubmitCmd, jobImportCmd, jobStatusCmd, jobCancelCmd)
}
