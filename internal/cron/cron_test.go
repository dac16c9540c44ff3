package cron

import (
	"testing"
	"time"

	"github.com/hivemind-dev/hivemind/internal/bus"
	"github.com/hivemind-dev/hivemind/internal/config"
)

type fakeSender struct {
	sent []bus.SendRequest
}

func (f *fakeSender) Send(req bus.SendRequest) (*bus.Receipt, error) {
	f.sent = append(f.sent, req)
	return &bus.Receipt{MessageID: "m"}, nil
}

func TestNewRejectsInvalidExpression(t *testing.T) {
	_, err := New([]config.CronSchedule{
		{ID: "bad", Expr: "not a cron", Text: "x"},
	}, &fakeSender{})
	if err == nil {
		t.Fatal("invalid expression accepted")
	}
}

func TestNewAcceptsValidExpressions(t *testing.T) {
	_, err := New([]config.CronSchedule{
		{ID: "hourly", Expr: "0 * * * *", Text: "x"},
		{ID: "every-minute", Expr: "* * * * *", Text: "y"},
	}, &fakeSender{})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTickSendsDueSchedules(t *testing.T) {
	sender := &fakeSender{}
	svc, err := New([]config.CronSchedule{
		{ID: "nine", To: "agent-x", Expr: "0 9 * * *", Text: "morning", TaskID: "t-1"},
		{ID: "noon", Expr: "0 12 * * *", Text: "midday"},
	}, sender)
	if err != nil {
		t.Fatal(err)
	}

	nineAM := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.tick(nineAM)

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %+v, want exactly the 9am schedule", sender.sent)
	}
	req := sender.sent[0]
	if req.To != "agent-x" || req.From != "user" || req.TaskID != "t-1" {
		t.Errorf("request = %+v", req)
	}
	if req.Payload["text"] != "morning" || req.Payload["cron"] != "nine" {
		t.Errorf("payload = %v", req.Payload)
	}
}

func TestTickDefaultsToRoot(t *testing.T) {
	sender := &fakeSender{}
	svc, err := New([]config.CronSchedule{
		{ID: "any", Expr: "* * * * *", Text: "ping"},
	}, sender)
	if err != nil {
		t.Fatal(err)
	}

	svc.tick(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC))
	if len(sender.sent) != 1 || sender.sent[0].To != "root" {
		t.Errorf("sent = %+v, want delivery to root", sender.sent)
	}
}
