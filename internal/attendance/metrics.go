package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkinOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startrak_checkins_total",
		Help: "QR check-in attempts by outcome tag.",
	}, []string{"outcome"})

	checkoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startrak_checkouts_total",
		Help: "Parent checkout attempts by outcome tag.",
	}, []string{"outcome"})

	advanceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startrak_manual_advances_total",
		Help: "Manual status advancements by target status.",
	}, []string{"to"})
)
