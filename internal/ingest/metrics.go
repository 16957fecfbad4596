package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_messages_total",
	Help: "Streamed registrations by stream and outcome.",
}, []string{"stream", "result"})
