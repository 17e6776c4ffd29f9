package api

import (
	"github.com/qzavyer/HyperNodeServer/pkg/config"
	"github.com/qzavyer/HyperNodeServer/pkg/monitor"
	"github.com/qzavyer/HyperNodeServer/pkg/watcher"
)

// API response types for REST endpoints and WebSocket messages

// OrdersSummary aggregates the order table for dashboards.
type OrdersSummary struct {
	TotalOrders     int            `json:"totalOrders"`
	StatusCounts    map[string]int `json:"statusCounts"`
	OpenOrdersCount int            `json:"openOrdersCount"`
}

// ConfigResponse is the symbol filter configuration as served and accepted
// by GET/PUT /config.
type ConfigResponse struct {
	Symbols []config.SymbolFilter `json:"symbols"`
}

// HealthResponse combines watcher progress with node log freshness; together
// they distinguish "healthy but busy" from "stuck".
type HealthResponse struct {
	Status     string             `json:"status"`
	OrderCount int                `json:"orderCount"`
	Watcher    watcher.Status     `json:"watcher"`
	Node       monitor.NodeHealth `json:"node"`
}

// CleanupResponse reports one on-demand cleanup pass.
type CleanupResponse struct {
	RemovedDirs  int `json:"removedDirs"`
	RemovedFiles int `json:"removedFiles"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WSSubscribeRequest is the client -> server subscription control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSOrderUpdate is the server -> client push message. Channel is "orders"
// for the firehose or "orders:<symbol>" for a single market.
type WSOrderUpdate struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
