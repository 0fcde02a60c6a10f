package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/catalogbridge/internal/db"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/service"
	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect batch publish jobs",
	Long: `List persisted batch jobs or inspect a specific job by ID.

Examples:
  catalogbridge jobs             # List recent jobs
  catalogbridge jobs abc12345    # Show details for job abc12345
  catalogbridge jobs resume      # Finish jobs an earlier run left incomplete`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume jobs left pending or running by an earlier run",
	Args:  cobra.NoArgs,
	RunE:  runJobsResume,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "number of jobs to list")
	jobsCmd.AddCommand(jobsResumeCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := connectDB(ctx)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		return showJob(ctx, client, args[0])
	}
	return listJobs(ctx, client)
}

func listJobs(ctx context.Context, client *db.Client) error {
	jobs, err := client.ListPublishJobs(ctx, jobsLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-12s %-10s %-20s %s\n", "ID", "STATUS", "PROGRESS", "STARTED", "NAME")
	fmt.Println("------------------------------------------------------------------------")
	for _, job := range jobs {
		id, err := models.RecordIDString(job.ID)
		if err != nil {
			continue
		}
		progress := fmt.Sprintf("%d/%d", job.Progress, job.Total)
		var name string
		if job.Name != nil {
			name = *job.Name
		}
		fmt.Printf("%-10s %-12s %-10s %-20s %s\n", id, job.Status, progress, job.StartedAt.Format("2006-01-02 15:04:05"), name)
	}
	return nil
}

func showJob(ctx context.Context, client *db.Client, id string) error {
	job, err := client.GetPublishJob(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return err
	}

	fmt.Println(theme.title().Render("Job " + id))
	if job.Name != nil && *job.Name != "" {
		fmt.Printf("  Name: %s\n", *job.Name)
	}
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %d/%d\n", job.Progress, job.Total)
	fmt.Printf("  Targets: %v\n", job.Targets)
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Println(theme.failure().Render("  Error: " + *job.Error))
	}

	counts, err := client.CountOutcomes(ctx, id)
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Println("\nOutcomes:")
		for _, c := range counts {
			fmt.Printf("  %s %-10s %d\n", statusMark(models.OutcomeStatus(c.Status)), c.Status, c.Count)
		}
	}

	if perTarget, ok := job.Result["per_target"].(map[string]any); ok && len(perTarget) > 0 {
		fmt.Println("\nPer target:")
		for target, v := range perTarget {
			if tc, ok := v.(map[string]any); ok {
				fmt.Printf("  %-10s %v ok, %v failed\n", target, tc["succeeded"], tc["failed"])
			}
		}
	}
	return nil
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := connectDB(ctx)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(ctx, nil)
	if err != nil {
		return err
	}

	manager := service.NewJobManager(pipeline, client, service.JobOptions{
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})
	if err := manager.ResumeIncompleteJobs(ctx); err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}

	jobs := manager.ListJobs()
	if len(jobs) == 0 {
		fmt.Println("No jobs to resume")
		return nil
	}
	for _, job := range jobs {
		for !job.Done() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
		snap := job.Snapshot()
		if snap.Status == service.JobStatusFailed {
			fmt.Println(theme.failure().Render(fmt.Sprintf("✗ Job %s failed: %s", snap.ID, snap.Error)))
		} else {
			fmt.Println(theme.success().Render(fmt.Sprintf("✓ Job %s completed", snap.ID)))
		}
		printReport(cmd.OutOrStdout(), snap.Result, false)
	}
	return nil
}
