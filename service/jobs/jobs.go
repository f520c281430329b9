// Package jobs runs periodic housekeeping on a cron schedule.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type SubscriptionExpirer interface {
	ExpireEnded(ctx context.Context, now time.Time) (int64, error)
}

type AppointmentCompleter interface {
	CompletePast(ctx context.Context, before time.Time) (int64, error)
}

type CallSweeper interface {
	SweepStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobObserver counts job runs. *metrics.Metrics implements it.
type JobObserver interface {
	ObserveJob(job string, err error)
}

type Config struct {
	// StaleCallWindow is how long a call may stay unanswered before it is
	// ended as abandoned.
	StaleCallWindow time.Duration
	Timeout         time.Duration
}

type Runner struct {
	cron         *cron.Cron
	subs         SubscriptionExpirer
	appointments AppointmentCompleter
	calls        CallSweeper
	observer     JobObserver
	log          logrus.FieldLogger
	cfg          Config
	now          func() time.Time
}

func NewRunner(subs SubscriptionExpirer, appointments AppointmentCompleter, calls CallSweeper, observer JobObserver, log logrus.FieldLogger, cfg Config) *Runner {
	if cfg.StaleCallWindow <= 0 {
		cfg.StaleCallWindow = 2 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Runner{
		cron:         cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		subs:         subs,
		appointments: appointments,
		calls:        calls,
		observer:     observer,
		log:          log,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Start schedules every job and starts the cron loop.
func (r *Runner) Start() error {
	schedule := []struct {
		spec string
		name string
		fn   func(context.Context) (int64, error)
	}{
		{"@every 15m", "expire_subscriptions", r.ExpireSubscriptions},
		{"@every 10m", "complete_appointments", r.CompleteAppointments},
		{"@every 5m", "sweep_stale_calls", r.SweepStaleCalls},
	}
	for _, job := range schedule {
		if _, err := r.cron.AddFunc(job.spec, func() { r.run(job.name, job.fn) }); err != nil {
			return err
		}
	}
	r.cron.Start()
	r.log.Info("background jobs started")
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (r *Runner) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Runner) run(name string, fn func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	n, err := fn(ctx)
	if r.observer != nil {
		r.observer.ObserveJob(name, err)
	}

	entry := r.log.WithFields(logrus.Fields{"job": name, "affected": n, "took": time.Since(start)})
	if err != nil {
		entry.WithError(err).Error("job failed")
		return
	}
	if n > 0 {
		entry.Info("job finished")
	}
}

// ExpireSubscriptions marks active subscriptions past their end date as expired.
func (r *Runner) ExpireSubscriptions(ctx context.Context) (int64, error) {
	return r.subs.ExpireEnded(ctx, r.now())
}

// CompleteAppointments closes scheduled appointments whose slot has ended.
func (r *Runner) CompleteAppointments(ctx context.Context) (int64, error) {
	return r.appointments.CompletePast(ctx, r.now())
}

func (r *Runner) SweepStaleCalls(ctx context.Context) (int64, error) {
	return r.calls.SweepStale(ctx, r.now().Add(-r.cfg.StaleCallWindow))
}
