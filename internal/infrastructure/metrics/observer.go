// Package metrics exports persistence pipeline outcomes to Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"metarecord/internal/model"
)

var _ model.Observer = (*Observer)(nil)

// Observer counts pipeline operations per model, operation and result and
// records their latency.
type Observer struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewObserver creates the collectors and registers them with reg. Collectors
// already registered by an earlier observer are reused.
func NewObserver(reg prometheus.Registerer, namespace string) (*Observer, error) {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "record",
		Name:      "operations_total",
		Help:      "Record pipeline operations by model, operation and result.",
	}, []string{"model", "operation", "result"})

	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "record",
		Name:      "operation_duration_seconds",
		Help:      "Record pipeline operation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"model", "operation"})

	var err error
	if ops, err = register(reg, ops); err != nil {
		return nil, err
	}
	if dur, err = register(reg, dur); err != nil {
		return nil, err
	}
	return &Observer{operations: ops, duration: dur}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveOperation implements model.Observer.
func (o *Observer) ObserveOperation(_ context.Context, modelName, op string, result model.Result, elapsed time.Duration) {
	o.operations.WithLabelValues(modelName, op, string(result)).Inc()
	o.duration.WithLabelValues(modelName, op).Observe(elapsed.Seconds())
}
