package metrics

import "time"

// ServerMetrics records listener and dispatcher activity.
//
// Request kinds are the administrative command names (IS_ALIVE,
// GET_NUM_CLIENTS, SHUTDOWN), UNKNOWN for unrecognised administrative
// types and PAYLOAD for forwarded requests.
type ServerMetrics interface {
	RecordRequest(kind string, duration time.Duration, err error)
	SetActiveClients(count int)
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	RecordAcceptTimeout()
	RecordAcceptFailure()
	RecordRateLimited()
}

// PoolMetrics records worker pool activity.
//
// Retire reasons: "pruned", "oneshot", "shutdown".
type PoolMetrics interface {
	SetWorkers(total, idle, busy int)
	RecordWorkerCreated()
	RecordWorkerRetired(reason string)
	RecordTaskDuration(duration time.Duration)
}

func NewNoopServerMetrics() ServerMetrics { return noopServerMetrics{} }

func NewNoopPoolMetrics() PoolMetrics { return noopPoolMetrics{} }

type noopServerMetrics struct{}

func (noopServerMetrics) RecordRequest(kind string, duration time.Duration, err error) {}
func (noopServerMetrics) SetActiveClients(count int)                                    {}
func (noopServerMetrics) RecordConnectionAccepted()                                     {}
func (noopServerMetrics) RecordConnectionClosed()                                       {}
func (noopServerMetrics) RecordConnectionForceClosed()                                  {}
func (noopServerMetrics) RecordAcceptTimeout()                                          {}
func (noopServerMetrics) RecordAcceptFailure()                                          {}
func (noopServerMetrics) RecordRateLimited()                                            {}

type noopPoolMetrics struct{}

func (noopPoolMetrics) SetWorkers(total, idle, busy int)          {}
func (noopPoolMetrics) RecordWorkerCreated()                      {}
func (noopPoolMetrics) RecordWorkerRetired(reason string)         {}
func (noopPoolMetrics) RecordTaskDuration(duration time.Duration) {}
