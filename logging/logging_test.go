package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/eventbus"
	"github.com/terraskye/pipeline/validation"
)

func TestBehavior_Levels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level logrus.Level
		msg   string
	}{
		{"success", nil, logrus.DebugLevel, "Dispatch succeeded: PlaceOrder"},
		{"validation", &validation.FailedError{Request: "PlaceOrder"}, logrus.WarnLevel, "Dispatch rejected: PlaceOrder"},
		{"domain rule", &pipeline.DomainRuleViolationError{Entity: "order"}, logrus.WarnLevel, "Dispatch rejected: PlaceOrder"},
		{"conflict", &pipeline.PersistenceConflictError{}, logrus.WarnLevel, "Dispatch rejected: PlaceOrder"},
		{"failure", errors.New("disk full"), logrus.ErrorLevel, "Dispatch failed: PlaceOrder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)

			b := Behavior(logrus.NewEntry(logger))
			info := pipeline.RequestInfo{Name: "PlaceOrder", Kind: pipeline.KindCommand}
			_, err := b(context.Background(), info, nil, func(context.Context) (any, error) {
				return nil, tt.err
			})
			assert.Equal(t, tt.err, err)

			entries := hook.AllEntries()
			require.Len(t, entries, 2)
			assert.Equal(t, logrus.InfoLevel, entries[0].Level)
			assert.Equal(t, "Dispatch: PlaceOrder", entries[0].Message)
			assert.Equal(t, "command", entries[0].Data["kind"])
			assert.Equal(t, tt.level, entries[1].Level)
			assert.Equal(t, tt.msg, entries[1].Message)
		})
	}
}

type pinged struct{}

func (pinged) EventType() string { return "Pinged" }

func TestSubscriberLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	boom := errors.New("boom")
	h := SubscriberLogging(logger, "mailer", func(context.Context, eventbus.Envelope) error { return boom })

	err := h(context.Background(), eventbus.NewEnvelope(context.Background(), pinged{}))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "subscriber=mailer")
	assert.Contains(t, buf.String(), "event_type=Pinged")
	assert.Contains(t, buf.String(), "error processing event")
}
