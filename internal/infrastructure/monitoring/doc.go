/*
Package monitoring provides metrics collection.

# Overview

Metrics records Prometheus metrics for the bridge on a private registry:
request dispatch and resolution by operation kind, dispatch latency, bridge
sizes (mounts, open files, watchers, pending requests), change notifications,
protocol violations, HTTP traffic and the provider socket.

# Usage

	metrics := monitoring.NewMetrics()

	b := bridge.New(bridge.Options{Metrics: metrics})

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Snapshot())
	})
*/
package monitoring
