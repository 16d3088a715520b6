package quiesce

import (
	"fmt"
	"time"

	"github.com/safing/quiesce/base/metrics"
)

type quiesceMetrics struct {
	requests            *metrics.Counter
	unitsAdmitted       *metrics.Counter
	unitsRejected       *metrics.Counter
	stoppedByRelease    *metrics.Counter
	stoppedByTimeout    *metrics.Counter
	stoppedDirectly     *metrics.Counter
	stopErrors          *metrics.Counter
	timeouts            *metrics.Counter
	participantFailures *metrics.Counter
	duration            *metrics.Histogram
}

func newQuiesceMetrics(reg *metrics.Registry, inflight func() float64) (qm *quiesceMetrics, err error) {
	qm = &quiesceMetrics{}

	counters := []struct {
		target **metrics.Counter
		id     string
		labels map[string]string
		name   string
	}{
		{&qm.requests, "requests/total", nil, "Quiesce Requests"},
		{&qm.unitsAdmitted, "units/admitted/total", nil, "Admitted Units"},
		{&qm.unitsRejected, "units/rejected/total", nil, "Units Rejected As Already Quiescing"},
		{&qm.stoppedByRelease, "units/stopped/total", map[string]string{"by": string(StoppedByRelease)}, "Units Stopped After Release"},
		{&qm.stoppedByTimeout, "units/stopped/total", map[string]string{"by": string(StoppedByTimeout)}, "Units Stopped By Timeout"},
		{&qm.stoppedDirectly, "units/stopped/total", map[string]string{"by": string(StoppedDirectly)}, "Units Stopped Without Participants"},
		{&qm.stopErrors, "units/stop_errors/total", nil, "Unit Stop Errors"},
		{&qm.timeouts, "requests/timeouts/total", nil, "Timed Out Quiesce Requests"},
		{&qm.participantFailures, "participants/failures/total", nil, "Participant Failures"},
	}
	for _, c := range counters {
		*c.target, err = reg.NewCounter(c.id, c.labels, &metrics.Options{Name: c.name})
		if err != nil {
			return nil, fmt.Errorf("register metric %s: %w", c.id, err)
		}
	}

	qm.duration, err = reg.NewHistogram("requests/duration/seconds", nil, &metrics.Options{Name: "Quiesce Request Duration"})
	if err != nil {
		return nil, fmt.Errorf("register duration metric: %w", err)
	}

	_, err = reg.NewGauge("requests/inflight", nil, inflight, &metrics.Options{Name: "In-Flight Quiesce Requests"})
	if err != nil {
		return nil, fmt.Errorf("register inflight metric: %w", err)
	}

	return qm, nil
}

func (qm *quiesceMetrics) stopped(cause StopCause) {
	switch cause {
	case StoppedByRelease:
		qm.stoppedByRelease.Inc()
	case StoppedByTimeout:
		qm.stoppedByTimeout.Inc()
	case StoppedDirectly:
		qm.stoppedDirectly.Inc()
	}
}

func (qm *quiesceMetrics) finished(started time.Time, timedOut bool) {
	qm.duration.UpdateDuration(started)
	if timedOut {
		qm.timeouts.Inc()
	}
}
