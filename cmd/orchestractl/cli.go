package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// TODO: Inject version at build time.
const version = "0.0.1"

type config struct {
	serverHostname string
	serverPort     string
}

type cli struct {
	client  *http.Client
	baseURL string
}

func newCLI() *cli {
	return &cli{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *cli) rootCmd() *cobra.Command {
	cfg := &config{}

	command := &cobra.Command{
		Use:          "orchestractl",
		Short:        "CLI for interacting with the transcription orchestrator service",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.baseURL = "http://" + net.JoinHostPort(
				cfg.serverHostname,
				cfg.serverPort,
			)
		},
	}

	command.AddCommand(
		c.submitCmd(),
		c.cancelCmd(),
		c.statusCmd(),
		c.outputCmd(),
		c.listCmd(),
		c.metricsCmd(),
		c.healthCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&cfg.serverHostname,
		"server-hostname",
		"localhost",
		"Server hostname",
	)

	command.PersistentFlags().StringVar(
		&cfg.serverPort,
		"server-port",
		"8090",
		"Server port",
	)

	return command
}

func (c *cli) submitCmd() *cobra.Command {
	var (
		mode              string
		outputDir         string
		dryRun            bool
		accelerationClass string
	)

	command := &cobra.Command{
		Use:     "submit [flags] INPUT_FILE",
		Short:   "Submit a new transcription job",
		Example: "  orchestractl submit --mode summary meeting.m4a",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"input":              args[0],
				"mode":               mode,
				"output_dir":         outputDir,
				"dry_run":            dryRun,
				"acceleration_class": accelerationClass,
			}

			var resp struct {
				JobID  string `json:"job_id"`
				Status string `json:"status"`
			}

			if err := c.post(cmd.Context(), "/api/v1/jobs", body, &resp); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)

			return nil
		},
	}

	command.Flags().StringVar(&mode, "mode", "", "Output mode: transcript or summary")
	command.Flags().StringVar(&outputDir, "output-dir", "", "Directory for the transcript artifact")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and admit without running the worker")
	command.Flags().StringVar(&accelerationClass, "accelerator", "", "Accelerator class hint (T4, A10G, A100, CPU)")

	return command
}

func (c *cli) cancelCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "cancel [flags] JOB_ID",
		Short:   "Cancel a running job",
		Example: "  orchestractl cancel 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				JobID     string `json:"job_id"`
				Cancelled bool   `json:"cancelled"`
			}

			path := fmt.Sprintf("/api/v1/jobs/%s/cancel", args[0])
			if err := c.post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}

			if !resp.Cancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "not cancelled: job unknown or already finished")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")

			return nil
		},
	}

	return command
}

func (c *cli) statusCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "status [flags] JOB_ID",
		Short:   "Query status of a job",
		Example: "  orchestractl status 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				ID     string `json:"id"`
				Input  string `json:"input"`
				Mode   string `json:"mode"`
				Status string `json:"status"`
				Result *struct {
					Code             string `json:"failure_code"`
					ErrorDetail      string `json:"error_detail"`
					ProcessingTimeMs int64  `json:"processing_time_ms"`
					Transcript       *struct {
						Text   string `json:"text"`
						Source string `json:"source"`
					} `json:"transcript"`
				} `json:"result"`
			}

			if err := c.get(cmd.Context(), "/api/v1/jobs/"+args[0], &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "STATUS\tINPUT\tMODE\t\n")
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", resp.Status, resp.Input, resp.Mode)
			w.Flush()

			if resp.Result != nil {
				out := cmd.OutOrStdout()

				if resp.Result.Code != "" {
					fmt.Fprintf(out, "\nfailure: %s\n%s\n", resp.Result.Code, resp.Result.ErrorDetail)
				}

				if resp.Result.Transcript != nil {
					fmt.Fprintf(out, "\n%s\n", resp.Result.Transcript.Text)
				}
			}

			return nil
		},
	}

	return command
}

func (c *cli) outputCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "output [flags] JOB_ID",
		Short:   "Stream job output",
		Example: "  orchestractl output 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/jobs/%s/output", args[0])

			return c.stream(cmd.Context(), path, cmd.OutOrStdout())
		},
	}

	return command
}

func (c *cli) listCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "list",
		Short:   "List currently running jobs",
		Example: "  orchestractl list",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Jobs []struct {
					ID          string    `json:"id"`
					Input       string    `json:"input"`
					Mode        string    `json:"mode"`
					Status      string    `json:"status"`
					SubmittedAt time.Time `json:"submitted_at"`
				} `json:"jobs"`
				Count int `json:"count"`
			}

			if err := c.get(cmd.Context(), "/api/v1/jobs", &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "ID\tINPUT\tMODE\tSTATUS\tSUBMITTED\t\n")
			for _, job := range resp.Jobs {
				fmt.Fprintf(
					w,
					"%s\t%s\t%s\t%s\t%s\t\n",
					job.ID,
					job.Input,
					job.Mode,
					job.Status,
					job.SubmittedAt.Format(time.RFC3339),
				)
			}

			return w.Flush()
		},
	}

	return command
}

func (c *cli) metricsCmd() *cobra.Command {
	var reset bool

	command := &cobra.Command{
		Use:     "metrics",
		Short:   "Show aggregated job metrics",
		Example: "  orchestractl metrics",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				TotalJobs               int64 `json:"total_jobs"`
				SuccessfulJobs          int64 `json:"successful_jobs"`
				FailedJobs              int64 `json:"failed_jobs"`
				CancelledJobs           int64 `json:"cancelled_jobs"`
				ActiveJobs              int64 `json:"active_jobs"`
				TotalProcessingTimeMs   int64 `json:"total_processing_time_ms"`
				AverageProcessingTimeMs int64 `json:"average_processing_time_ms"`
			}

			var err error
			if reset {
				err = c.post(cmd.Context(), "/api/v1/metrics/reset", nil, &resp)
			} else {
				err = c.get(cmd.Context(), "/api/v1/metrics", &resp)
			}

			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "TOTAL\tACTIVE\tSUCCESSFUL\tFAILED\tCANCELLED\tAVG MS\t\n")
			fmt.Fprintf(
				w,
				"%d\t%d\t%d\t%d\t%d\t%d\t\n",
				resp.TotalJobs,
				resp.ActiveJobs,
				resp.SuccessfulJobs,
				resp.FailedJobs,
				resp.CancelledJobs,
				resp.AverageProcessingTimeMs,
			)

			return w.Flush()
		},
	}

	command.Flags().BoolVar(&reset, "reset", false, "Zero the counters after reading")

	return command
}

func (c *cli) healthCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "health",
		Short:   "Check orchestrator and worker availability",
		Example: "  orchestractl health",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Healthy bool `json:"healthy"`
				Checks  []struct {
					Name   string `json:"name"`
					OK     bool   `json:"ok"`
					Detail string `json:"detail"`
				} `json:"checks"`
			}

			// Health reports 503 when degraded but still carries a body.
			err := c.get(cmd.Context(), "/health", &resp)
			if err != nil && len(resp.Checks) == 0 {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "CHECK\tOK\tDETAIL\t\n")
			for _, check := range resp.Checks {
				fmt.Fprintf(w, "%s\t%t\t%s\t\n", check.Name, check.OK, check.Detail)
			}

			w.Flush()

			if !resp.Healthy {
				return errors.New("orchestrator is unhealthy")
			}

			return nil
		},
	}

	return command
}
