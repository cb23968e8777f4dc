package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/chinmayajena/sundaygraph/internal/tasks"
)

// The task runner is session-scoped: it tracks tasks submitted by async
// commands in this process, such as deploy --async.
var (
	runnerOnce sync.Once
	runner     *tasks.Runner
)

func sessionRunner() *tasks.Runner {
	runnerOnce.Do(func() {
		runner = tasks.NewRunner(tasks.Config{
			MaxWorkers:     cfg.Runner.WorkerCount,
			LaneDepth:      cfg.Runner.MaxQueueSize,
			DefaultTimeout: cfg.RunnerDefaultTimeout(),
			DrainTimeout:   cfg.RunnerDrainTimeout(),
		})
	})
	return runner
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and cancel tasks in this session",
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the state of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStatus,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Request cooperative cancellation of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	st, err := sessionRunner().Status(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("task      %s\n", st.ID)
	fmt.Printf("kind      %s\n", st.Kind)
	fmt.Printf("workspace %s\n", st.Workspace)
	fmt.Printf("state     %s\n", st.State)
	fmt.Printf("submitted %s\n", st.SubmittedAt.Format("2006-01-02 15:04:05"))
	if st.StartedAt != nil {
		fmt.Printf("started   %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if st.CompletedAt != nil {
		fmt.Printf("completed %s\n", st.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if st.Error != "" {
		fmt.Printf("error     %s (retryable: %v)\n", st.Error, st.Retryable)
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	if err := sessionRunner().Cancel(args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for task %s\n", args[0])
	return nil
}
