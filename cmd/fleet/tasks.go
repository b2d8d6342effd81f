package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cuemby/fleet/pkg/api"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the plan a task would run, without running it",
	Long: `Show the ordered subtask groups a task would run, without locking the
universe or touching any node.

Examples:
  # Preview a resize
  fleet plan --universe 7f3c... --kind Resize -f resize.yaml`,
	RunE: runPlan,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a maintenance task",
	Long: `Submit a maintenance task on a universe.

The parameters file lists the target clusters with their desired user intent.
Flag values in the file must be quoted strings ("false", not false).

Examples:
  # Change tserver flags and wait for the rolling restart to finish
  fleet submit --universe 7f3c... --kind GFlagsUpgrade -f gflags.yaml --wait`,
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status TASK",
	Short: "Show the state and progress of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var resumeCmd = &cobra.Command{
	Use:   "resume TASK",
	Short: "Retry a failed or interrupted task from its last completed group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Resume(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Task %s resumed\n", args[0])
		return waitIfRequested(cmd, args[0])
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort TASK",
	Short: "Stop a running task at its next group boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Abort(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Abort requested for task %s\n", args[0])
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		universeID, _ := cmd.Flags().GetString("universe")
		state, _ := cmd.Flags().GetString("state")

		c, err := newClient()
		if err != nil {
			return err
		}
		tasks, err := c.ListTasks(cmd.Context(), universeID, types.TaskState(state))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tUNIVERSE\tKIND\tSTATE\tPROGRESS\tCREATED")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.UUID, t.UniverseUUID, t.Kind, t.State, progress(t), t.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	for _, cmd := range []*cobra.Command{planCmd, submitCmd} {
		cmd.Flags().String("universe", "", "Universe UUID (required)")
		cmd.Flags().String("kind", "", "Task kind: Resize, GFlagsUpgrade or SoftwareUpgrade (required)")
		cmd.Flags().StringP("file", "f", "", "YAML parameters file (required)")
		cmd.Flags().Bool("force", false, "Plan every step even where nothing seems to change")
		_ = cmd.MarkFlagRequired("universe")
		_ = cmd.MarkFlagRequired("kind")
		_ = cmd.MarkFlagRequired("file")
	}
	submitCmd.Flags().Bool("override-lock", false, "Take over the universe lock of a task that is no longer running")

	for _, cmd := range []*cobra.Command{submitCmd, resumeCmd, statusCmd} {
		cmd.Flags().Bool("wait", false, "Wait until the task finishes")
		cmd.Flags().Duration("poll-interval", 2*time.Second, "Interval between status polls while waiting")
	}

	tasksCmd.Flags().String("universe", "", "Only tasks of this universe")
	tasksCmd.Flags().String("state", "", "Only tasks in this state (Running, Success, Failed, Aborted)")

	rootCmd.AddCommand(planCmd, submitCmd, statusCmd, resumeCmd, abortCmd, tasksCmd)
}

func submitRequest(cmd *cobra.Command) (*api.SubmitRequest, error) {
	universeID, _ := cmd.Flags().GetString("universe")
	kind, _ := cmd.Flags().GetString("kind")
	filename, _ := cmd.Flags().GetString("file")
	force, _ := cmd.Flags().GetBool("force")

	params, err := loadParams(filename, force)
	if err != nil {
		return nil, err
	}
	return &api.SubmitRequest{UniverseID: universeID, Kind: kind, Params: params}, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	req, err := submitRequest(cmd)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	groups, err := c.Plan(cmd.Context(), req)
	if err != nil {
		return err
	}

	fmt.Printf("Plan for %s on universe %s: %d groups\n\n", req.Kind, req.UniverseID, len(groups))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tGROUP\tTYPE\tSUBTASKS")
	for i, g := range groups {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i, g.Name, g.Type, len(g.SubTasks))
		for _, st := range g.SubTasks {
			fmt.Fprintf(w, "\t  %s\t\t\n", st)
		}
	}
	return w.Flush()
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := submitRequest(cmd)
	if err != nil {
		return err
	}
	req.Force, _ = cmd.Flags().GetBool("override-lock")

	c, err := newClient()
	if err != nil {
		return err
	}
	taskID, err := c.Submit(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Task %s submitted\n", taskID)
	return waitIfRequested(cmd, taskID)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if wait, _ := cmd.Flags().GetBool("wait"); wait {
		return waitIfRequested(cmd, args[0])
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	info, err := c.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printTask(info)
	return nil
}

// waitIfRequested follows the task until it finishes when --wait is set.
// A task that does not end in Success is reported as an error.
func waitIfRequested(cmd *cobra.Command, taskID string) error {
	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		return nil
	}
	interval, _ := cmd.Flags().GetDuration("poll-interval")

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	info, err := c.WaitForTask(ctx, taskID, interval)
	if err != nil {
		return err
	}
	printTask(info)
	if info.State != types.TaskStateSuccess {
		return fmt.Errorf("task %s ended %s", taskID, info.State)
	}
	return nil
}

func printTask(info *types.TaskInfo) {
	fmt.Printf("Task:      %s\n", info.UUID)
	fmt.Printf("Universe:  %s\n", info.UniverseUUID)
	fmt.Printf("Kind:      %s\n", info.Kind)
	fmt.Printf("State:     %s\n", info.State)
	fmt.Printf("Progress:  %s\n", progress(info))
	fmt.Printf("Retries:   %d\n", info.RetryCount)
	if info.Error != "" {
		fmt.Printf("Error:     %s\n", info.Error)
	}
}

func progress(info *types.TaskInfo) string {
	return fmt.Sprintf("%d/%d", info.LastCompletedGroup+1, info.TotalGroups)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
