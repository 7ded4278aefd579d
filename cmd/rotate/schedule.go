package rotate

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/cmd/cluster"
	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/rotation"
)

func scheduleCmd(cliCtx *config.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured rotation jobs on their cron schedules",
		Long:  `Run every job of rotation.jobs on its cron expression until SIGINT or SIGTERM.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			exitOnError(runSchedule(cmd, cliCtx))
		},
	}
}

func runSchedule(cmd *cobra.Command, cliCtx *config.Context) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := cluster.Open(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer s.Close()

	engine, err := s.Engine()
	if err != nil {
		return err
	}
	scheduler := rotation.NewScheduler(engine, s.Log)
	if err := scheduleJobs(scheduler, s.Config.Rotation.Jobs); err != nil {
		return err
	}

	scheduler.Start()
	s.Log.Successf("Scheduled %d rotation job(s), waiting for SIGINT or SIGTERM", scheduler.Jobs())
	<-ctx.Done()

	s.Log.Infof("Stopping scheduler...")
	scheduler.Stop()
	s.Log.Successf("Scheduler stopped")
	return nil
}

func scheduleJobs(scheduler *rotation.Scheduler, jobs []config.RotationJob) error {
	if len(jobs) == 0 {
		return fmt.Errorf("no rotation jobs configured (rotation.jobs)")
	}
	for _, job := range jobs {
		req, err := jobRequest(job)
		if err != nil {
			return err
		}
		if err := scheduler.Schedule(job.Cron, req); err != nil {
			return err
		}
	}
	return nil
}
