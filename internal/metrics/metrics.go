package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DrawActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_draw_actions_total",
			Help: "Draw negotiation actions by action and outcome",
		},
		[]string{"action", "outcome"},
	)
	ChatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_chat_messages_total",
			Help: "Chat messages seen by session channels",
		},
		[]string{"event"},
	)
	HistoryFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_history_fetches_total",
			Help: "History aggregation passes by result",
		},
		[]string{"result"},
	)
	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_completions_total",
			Help: "Sessions moved to completed, by result kind",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(DrawActions)
	prometheus.MustRegister(ChatMessages)
	prometheus.MustRegister(HistoryFetches)
	prometheus.MustRegister(Completions)
}
