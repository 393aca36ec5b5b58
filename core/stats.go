package core

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/searchktools/cyclone/core/observability"
	"github.com/searchktools/cyclone/core/pools"
)

// Stats is a snapshot of engine counters.
type Stats struct {
	ActiveConnections int                    `json:"active_connections"`
	Accepted          uint64                 `json:"accepted"`
	Requests          uint64                 `json:"requests"`
	Monitor           observability.Snapshot `json:"monitor"`
	BytePool          pools.BytePoolStats    `json:"byte_pool"`
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ActiveConnections: e.ActiveConnections(),
		Accepted:          e.accepted.Load(),
		Requests:          e.requests.Load(),
		Monitor:           e.monitor.Snapshot(),
		BytePool:          e.bytePool.Stats(),
	}
}

// StatsJSON returns the stats as indented JSON.
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns the stats as human-readable text.
func (e *Engine) StatsText() string {
	s := e.Stats()
	return fmt.Sprintf(`Server Statistics
=================

Connections:
  Active:   %s
  Accepted: %s

Requests:
  Served:   %s
  Errors:   %s

Byte Pool:
  Gets:     %s
  Puts:     %s
  Oversize: %s
`,
		humanize.Comma(int64(s.ActiveConnections)), humanize.Comma(int64(s.Accepted)),
		humanize.Comma(int64(s.Requests)), humanize.Comma(int64(s.Monitor.TotalErrors)),
		humanize.Comma(int64(s.BytePool.Gets)), humanize.Comma(int64(s.BytePool.Puts)),
		humanize.Comma(int64(s.BytePool.Oversize)),
	)
}
