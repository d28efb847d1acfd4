package app

import (
	"context"
	"fmt"

	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/job"
	"github.com/vk/simgrid/internal/notify"
	"github.com/vk/simgrid/internal/render"
	"github.com/vk/simgrid/internal/writer"
)

// Run executes the loaded job configuration.
func (a *App) Run(ctx context.Context) (*job.Summary, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.startHealthcheckServer(a.config.HealthcheckPort)
	defer a.closeHealthcheckServer()

	var w writer.Writer = writer.File{}
	runID := ""
	if a.config.S3.Bucket != "" {
		mirror, err := writer.NewS3Mirror(a.config.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to configure S3 mirror: %w", err)
		}
		runID = mirror.RunID()
		w = writer.Mirrored{Writer: w, Uploader: mirror}
		a.logger.Info("Mirroring output files to S3.", "bucket", a.config.S3.Bucket, "run_id", runID)
	}

	var notifier notify.Notifier = notify.Nop{}
	if a.config.NotifyURL != "" {
		n, err := notify.Dial(ctx, notify.Options{URL: a.config.NotifyURL, Namespace: a.config.NotifyNamespace})
		if err != nil {
			a.logger.Warn("Progress notifications disabled.", "error", err)
		} else {
			notifier = n
		}
	}
	defer notifier.Close()

	j := &job.Job{
		Registry: a.registry,
		Renderer: render.Stamp{},
		Writer:   w,
		Notifier: notifier,
		Workers:  a.config.Workers,
		RunID:    runID,
		Progress: func(done, total int) {
			a.filesDone.Store(int64(done))
			a.filesTotal.Store(int64(total))
		},
	}

	a.logger.Info("🚀 Starting job...")
	sum, err := j.Run(ctx, a.tree)
	if err != nil {
		return sum, fmt.Errorf("job failed: %w", err)
	}
	a.logger.Info("🏁 Job finished.", "written", sum.Written, "skipped", sum.Skipped, "nproc", sum.NProc, "duration", sum.Duration)
	return sum, nil
}
