/*
Package monitoring provides Prometheus metrics for the coordinator and its
HTTP surface.

# Overview

Metrics live on a private registry so several servers can run in one
process (tests do). The pool gauges are computed on scrape from a stats
function; everything else is pushed.

# Features

- HTTP request metrics (count and latency by route)
- Registration outcomes and live registrations
- Pool admissions (reused, repurposed, created)
- Host to remote requests by outcome (resolved, timeout, remote_error, error)
- Live, ready, idle and maximum contexts
- WebSocket connection metrics

# Usage

	metrics := monitoring.NewMetrics(func() pool.Stats { return coord.Stats().Pool })
	coord.SetObserver(metrics)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
