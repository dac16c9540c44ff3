// Package cron delivers recurring messages to agents on cron schedules.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/org"
)

// Sender is the bus surface the service needs.
type Sender interface {
	Send(req bus.SendRequest) (*bus.Receipt, error)
}

// Service ticks once a minute and sends a message for every schedule that is
// due. Schedules with unparseable expressions are rejected at construction.
type Service struct {
	schedules []config.CronSchedule
	sender    Sender
	gron      *gronx.Gronx
}

func New(schedules []config.CronSchedule, sender Sender) (*Service, error) {
	g := gronx.New()
	for _, s := range schedules {
		if !g.IsValid(s.Expr) {
			return nil, fmt.Errorf("cron schedule %q: invalid expression %q", s.ID, s.Expr)
		}
	}
	return &Service{schedules: schedules, sender: sender, gron: g}, nil
}

// Run blocks until ctx is cancelled. Ticks align to minute boundaries.
func (s *Service) Run(ctx context.Context) {
	if len(s.schedules) == 0 {
		return
	}
	slog.Info("cron service started", "schedules", len(s.schedules))
	for {
		next := time.Now().Truncate(time.Minute).Add(time.Minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		s.tick(next)
	}
}

func (s *Service) tick(now time.Time) {
	for _, sched := range s.schedules {
		due, err := s.gron.IsDue(sched.Expr, now)
		if err != nil || !due {
			continue
		}
		to := sched.To
		if to == "" {
			to = org.RootAgentID
		}
		_, err = s.sender.Send(bus.SendRequest{
			To:     to,
			From:   org.UserAgentID,
			TaskID: sched.TaskID,
			Payload: map[string]any{
				"text": sched.Text,
				"cron": sched.ID,
			},
		})
		if err != nil {
			slog.Error("cron send failed", "schedule", sched.ID, "to", to, "error", err)
			continue
		}
		slog.Info("cron message sent", "schedule", sched.ID, "to", to)
	}
}
