// Package sideeffect describes the result of best-effort work that follows a
// durable write. Failures are reported, never returned to the caller.
package sideeffect

import (
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/sirupsen/logrus"
)

type Status string

const (
	Succeeded Status = "succeeded"
	Degraded  Status = "degraded"
	Skipped   Status = "skipped"
)

// Outcome is what happened to one side effect. Reason is shown to users;
// the underlying error is only logged.
type Outcome struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	err    error
}

// Err returns the error behind a degraded outcome.
func (o Outcome) Err() error {
	return o.err
}

func (o Outcome) OK() bool {
	return o.Status != Degraded
}

// Recorder counts outcomes. *metrics.Metrics implements it.
type Recorder interface {
	ObserveSideEffect(name, status string)
}

// Run executes fn and converts its error into a degraded outcome.
func Run(name string, fn func() error) Outcome {
	if err := fn(); err != nil {
		return Degrade(name, err)
	}
	return Outcome{Name: name, Status: Succeeded}
}

// Degrade records err against name. Only application errors, whose
// messages are written for users, reach Reason.
func Degrade(name string, err error) Outcome {
	reason := "temporarily unavailable"
	if appErr := utils.AsAppError(err); appErr != nil && appErr.Kind != utils.KindInternal {
		reason = appErr.Message
	}
	return Outcome{Name: name, Status: Degraded, Reason: reason, err: err}
}

func Skip(name, reason string) Outcome {
	return Outcome{Name: name, Status: Skipped, Reason: reason}
}

// Report logs every outcome and feeds it to rec when rec is not nil.
func Report(log logrus.FieldLogger, rec Recorder, fields logrus.Fields, outcomes ...Outcome) {
	for _, o := range outcomes {
		entry := log.WithFields(fields).WithFields(logrus.Fields{
			"side_effect": o.Name,
			"status":      o.Status,
		})
		if o.Status == Degraded {
			if o.err != nil {
				entry = entry.WithError(o.err)
			}
			entry.WithField("reason", o.Reason).Warn("side effect degraded")
		} else {
			entry.Debug("side effect finished")
		}
		if rec != nil {
			rec.ObserveSideEffect(o.Name, string(o.Status))
		}
	}
}
