package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	onlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "yapping_online_users",
		Help: "Users currently present in the online directory.",
	})
	routedNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yapping_notifications_routed_total",
		Help: "Notifications accepted into a mailbox.",
	})
	mailboxDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yapping_mailbox_drops_total",
		Help: "Notifications dropped because a mailbox was full.",
	})
)
