/*

This file contains the default parameters for the savings vault service.

*/

package config

import "time"

const (
	// DefaultLogLevel is used when LOG_LEVEL is unset.
	DefaultLogLevel = "info"

	// DefaultWebPort serves the HTTP API and /metrics.
	DefaultWebPort = 8080
	// DefaultGRPCPort serves the gRPC health service.
	DefaultGRPCPort = 9090

	// MaxAccrualBps caps the per-cycle interest the keeper may credit (100%).
	MaxAccrualBps = 10_000
	// MinLoopInterval keeps the keeper from spinning.
	MinLoopInterval = time.Second

	// DefaultHistoryLimit is the page size of the history endpoints.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit bounds the page size of the history endpoints.
	MaxHistoryLimit = 100
)
