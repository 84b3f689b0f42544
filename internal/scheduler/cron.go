package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"subtrack/internal/types"
)

// cronParser accepts standard five-field expressions and descriptors such as
// "@daily" or "@every 1m".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Job is a periodic task hosted in-process.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context, now time.Time) error
}

// RunCron runs every job once at start and then on its schedule until ctx is
// cancelled, waiting for in-flight jobs before returning. A fire that lands
// while the previous run of the same job is still going is skipped. Job
// errors are logged; the schedule keeps going. Used by the API binary, which
// hosts the jobs in-process when no scheduler Lambda exists.
func RunCron(ctx context.Context, jobs []Job, clock types.Clock, logger *slog.Logger) error {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	runners := make([]func(), 0, len(jobs))
	for _, j := range jobs {
		sched, err := ParseSchedule(j.Schedule)
		if err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Schedule, err)
		}
		log := logger.With(slog.String("job", j.Name))
		run := j.Run
		fire := func() {
			if err := run(ctx, clock.Now()); err != nil && ctx.Err() == nil {
				log.ErrorContext(ctx, "periodic job failed", slog.Any("error", err))
			}
		}
		c.Schedule(sched, cron.FuncJob(fire))
		runners = append(runners, fire)
		log.Info("periodic job scheduled", slog.String("schedule", j.Schedule))
	}

	for _, fire := range runners {
		fire()
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
