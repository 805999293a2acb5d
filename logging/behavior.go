package logging

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/validation"
)

// Behavior logs every dispatch. Rejections the caller is expected to handle
// (validation, domain rules, concurrency conflicts) are logged at warn level,
// everything else at error level.
func Behavior(logger *logrus.Entry) pipeline.Behavior {
	return func(ctx context.Context, info pipeline.RequestInfo, req any, next pipeline.Next) (any, error) {
		l := logger.WithFields(logrus.Fields{
			"request":        info.Name,
			"kind":           info.Kind.String(),
			"correlation_id": pipeline.CorrelationIDFromContext(ctx).String(),
		})
		l.Infof("Dispatch: %s", info.Name)

		start := time.Now()
		res, err := next(ctx)
		l = l.WithField("duration", time.Since(start))

		switch {
		case err == nil:
			l.Debugf("Dispatch succeeded: %s", info.Name)
		case expected(err):
			l.WithError(err).WithField("error_type", pipeline.ErrorType(err)).
				Warnf("Dispatch rejected: %s", info.Name)
		default:
			l.WithError(err).WithField("error_type", pipeline.ErrorType(err)).
				Errorf("Dispatch failed: %s", info.Name)
		}
		return res, err
	}
}

func expected(err error) bool {
	return errors.Is(err, validation.ErrValidationFailed) ||
		errors.Is(err, pipeline.ErrDomainRuleViolation) ||
		errors.Is(err, pipeline.ErrPersistenceConflict)
}
