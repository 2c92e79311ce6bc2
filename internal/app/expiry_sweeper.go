/**
 * @description
 * Cron setup for the payment expiry sweep. Pending payment requests past their
 * expiry are flipped to "expired" on a schedule so lapsed requests do not rely
 * on a member revisiting the status endpoint.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpirySweeper periodically expires overdue payment requests.
type ExpirySweeper struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewExpirySweeper creates a sweeper running on the given cron schedule.
func NewExpirySweeper(service *Service, schedule string) *ExpirySweeper {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &ExpirySweeper{
		cron:     c,
		service:  service,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the cron runner.
func (s *ExpirySweeper) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		log.Printf("level=error component=expiry_sweeper msg=\"failed to schedule expiry sweep\" schedule=%q err=%v", s.schedule, err)
		return
	}
	log.Printf("level=info component=expiry_sweeper msg=\"scheduled expiry sweep\" schedule=%q", s.schedule)
	s.cron.Start()
}

// Stop gracefully stops the cron runner and returns a context that is done
// once in-flight jobs finish.
func (s *ExpirySweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *ExpirySweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.service.ExpireOverduePayments(ctx)
	if err != nil {
		log.Printf("level=error component=expiry_sweeper msg=\"expiry sweep failed\" err=%v", err)
		return
	}
	if count > 0 {
		log.Printf("level=info component=expiry_sweeper msg=\"expired overdue payment requests\" count=%d", count)
	}
}
