// Package metrics exposes the Prometheus gauges and counters the runner
// scheduler (C11) updates as it picks up and dispatches work.
//
// Grounded on pkg/agent/middleware/metrics/prometheus.go's promauto
// registration style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue names used as the "queue" label on QueueDepth.
const (
	QueueTask = "task"
	QueueChat = "chat"
)

var (
	// ActiveTaskWorkers is the number of task workers currently running.
	ActiveTaskWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "malamar_active_task_workers",
		Help: "Number of task workers currently executing.",
	})

	// ActiveChatWorkers is the number of chat workers currently running.
	ActiveChatWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "malamar_active_chat_workers",
		Help: "Number of chat workers currently executing.",
	})

	// QueueDepth reports the queued-row count per queue, labelled "task" or "chat".
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "malamar_queue_depth",
		Help: "Number of queued rows awaiting pickup.",
	}, []string{"queue"})

	// AgentInvocationsTotal counts every CLI invocation attempt by an agent, per task or chat worker.
	AgentInvocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malamar_agent_invocations_total",
		Help: "Total number of agent CLI invocations attempted.",
	})

	// CLIFailuresTotal counts invocations that exited non-zero or otherwise failed to run.
	CLIFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malamar_cli_failures_total",
		Help: "Total number of CLI invocations that failed.",
	})
)
