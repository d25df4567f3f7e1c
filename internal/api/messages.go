// Package api defines the JSON messages exchanged over the websocket stream.
package api

import (
	"github.com/skobkin/ibtop/internal/hostinfo"
	"github.com/skobkin/ibtop/internal/ib"
	"github.com/skobkin/ibtop/internal/procscan"
	"github.com/skobkin/ibtop/internal/sampler"
	"github.com/skobkin/ibtop/internal/version"
)

// Message types.
const (
	TypeHello     = "hello"
	TypeStats     = "stats"
	TypeProcs     = "procs"
	TypeError     = "error"
	TypeSubscribe = "subscribe"
	TypePing      = "ping"
	TypePong      = "pong"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string          `json:"type"`
	IntervalMS int64           `json:"interval_ms"`
	Interfaces []ib.Interface  `json:"interfaces"`
	Host       hostinfo.Info   `json:"host"`
	Version    version.Info    `json:"version"`
	Features   map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int64, interfaces []ib.Interface, host hostinfo.Info, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:       TypeHello,
		IntervalMS: intervalMS,
		Interfaces: interfaces,
		Host:       host,
		Version:    version.Current(),
		Features:   features,
	}
}

// StatsMessage wraps a sampling cycle for transport.
type StatsMessage struct {
	Type string `json:"type"`
	sampler.Cycle
}

// NewStatsMessage constructs a stats payload.
func NewStatsMessage(cycle sampler.Cycle) StatsMessage {
	return StatsMessage{
		Type:  TypeStats,
		Cycle: cycle,
	}
}

// ProcsMessage wraps a process snapshot for transport.
type ProcsMessage struct {
	Type string `json:"type"`
	procscan.Snapshot
}

// NewProcsMessage constructs a procs payload.
func NewProcsMessage(snapshot procscan.Snapshot) ProcsMessage {
	return ProcsMessage{
		Type:     TypeProcs,
		Snapshot: snapshot,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorMessage constructs an error payload.
func NewErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// SubscribeMessage narrows the stream to one interface. An empty interface
// selects all of them.
type SubscribeMessage struct {
	Type      string `json:"type"`
	Interface string `json:"interface"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
