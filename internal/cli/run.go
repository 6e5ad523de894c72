package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipper/internal/logging"
	"github.com/forPelevin/clipper/internal/pipeline"
	"github.com/forPelevin/clipper/internal/types"
)

// errJobFailed marks a run whose job ended in failed; the snapshot has
// already been printed.
var errJobFailed = errors.New("job failed")

func exitCode(err error) int {
	if errors.Is(err, errJobFailed) {
		return 2
	}
	return 1
}

type runFlags struct {
	minSec   float64
	maxSec   float64
	clips    int
	aspects  []string
	poll     time.Duration
	timeout  time.Duration
	manifest string
}

func newRunCommand(root *rootFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Process one video and print the final job snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, root, f, args[0])
		},
	}
	cmd.Flags().Float64Var(&f.minSec, "min", 20, "Minimum clip duration seconds")
	cmd.Flags().Float64Var(&f.maxSec, "max", 60, "Maximum clip duration seconds")
	cmd.Flags().IntVar(&f.clips, "clips", 5, "Maximum number of clips")
	cmd.Flags().StringSliceVar(&f.aspects, "aspect", []string{"9:16"}, "Aspect ratios to render")
	cmd.Flags().DurationVar(&f.poll, "poll", 500*time.Millisecond, "Snapshot poll interval")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Hour, "Give up and cancel the job after this long")
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "Also write the final snapshot to this file")
	_ = cmd.Flags().MarkHidden("poll")
	return cmd
}

func run(cmd *cobra.Command, root *rootFlags, f runFlags, input string) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	ref := input
	if cfg.Jobs.SourceRoot == "" {
		if ref, err = filepath.Abs(input); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	app, err := pipeline.Build(ctx, cfg, logging.New(nil))
	if err != nil {
		return err
	}
	app.Jobs.Start()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer scancel()
		_ = app.Jobs.Shutdown(sctx)
	}()

	snap, err := app.Jobs.Submit(types.JobSpec{
		SourceRef:    ref,
		MinClipSec:   f.minSec,
		MaxClipSec:   f.maxSec,
		MaxClips:     f.clips,
		AspectRatios: f.aspects,
	})
	if err != nil && snap.ID == "" {
		return err
	}

	snap, err = waitForJob(ctx, app.Jobs, snap, f.poll)
	if err != nil {
		return err
	}
	if err := printSnapshot(cmd, snap, f.manifest); err != nil {
		return err
	}
	if snap.Status == types.JobFailed {
		return fmt.Errorf("%w: %s", errJobFailed, snap.Error)
	}
	return nil
}

type jobGetter interface {
	Get(id string) (types.JobSnapshot, error)
	Cancel(id string) error
}

// waitForJob polls until the job is terminal. When ctx ends first the job
// is canceled and polled until it settles.
func waitForJob(ctx context.Context, jobs jobGetter, snap types.JobSnapshot, every time.Duration) (types.JobSnapshot, error) {
	t := time.NewTicker(every)
	defer t.Stop()
	last := snap.Status
	canceled := false
	for !snap.Status.Terminal() {
		select {
		case <-ctx.Done():
			if !canceled {
				log.Warn().Str("job_id", snap.ID).Msg("interrupted; canceling job")
				if err := jobs.Cancel(snap.ID); err != nil {
					log.Debug().Err(err).Msg("cancel")
				}
				canceled = true
			}
			// ctx stays done; pace the polls with the ticker.
			<-t.C
		case <-t.C:
		}
		var err error
		snap, err = jobs.Get(snap.ID)
		if err != nil {
			return snap, err
		}
		if snap.Status != last {
			log.Info().Str("job_id", snap.ID).Str("status", string(snap.Status)).Msg("job progress")
			last = snap.Status
		}
	}
	return snap, nil
}

func printSnapshot(cmd *cobra.Command, snap types.JobSnapshot, manifest string) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	if manifest != "" {
		if err := os.WriteFile(manifest, b, 0o644); err != nil {
			return err
		}
		log.Info().Str("path", manifest).Msg("manifest written")
	}
	return nil
}
