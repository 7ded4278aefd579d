package rotation

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/stackvista/stackstate-index-cli/internal/logger"
)

// Rotator is what the scheduler drives; *Engine implements it.
type Rotator interface {
	Rotate(ctx context.Context, req Request) (*Result, error)
}

// Scheduler runs rotations on cron expressions. A job still running when its
// next slot arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	rotator Rotator
	log     *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(rotator Rotator, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		rotator: rotator,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers a rotation of req on spec, a standard five-field cron
// expression or a descriptor such as "@daily".
func (s *Scheduler) Schedule(spec string, req Request) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(req) })
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", spec, req.Base, err)
	}
	s.log.Debugf("scheduled rotation of %s on %q", req.Base, spec)
	return nil
}

func (s *Scheduler) run(req Request) {
	s.log.Infof("Rotating %s...", req.Base)
	res, err := s.rotator.Rotate(s.ctx, req)
	if err != nil {
		s.log.Errorf("rotation of %s failed: %v", req.Base, err)
		return
	}
	s.log.Successf("Rotated %s: created %s", req.Base, res.Created)
}

// cronLogger reports cron events through the logger: panics as errors, the
// rest at debug level.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugf("cron: %s%s", msg, formatPairs(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorf("scheduled rotation %s: %v", msg, err)
	c.log.Debugf("cron: %s%s", msg, formatPairs(keysAndValues))
}

func formatPairs(keysAndValues []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}

// Jobs returns the number of registered rotations.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running rotations and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
