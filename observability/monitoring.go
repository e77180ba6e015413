package observability

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
)

// MonitoringStats is a point-in-time copy of the chat counters.
type MonitoringStats struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	AcceptErrors        uint64 `json:"accept_errors"`
	ActiveSessions      int64  `json:"active_sessions"`
	SessionsJoined      uint64 `json:"sessions_joined"`
	SessionsEnded       uint64 `json:"sessions_ended"`
	MessagesPublished   uint64 `json:"messages_published"`
	CommandsHandled     uint64 `json:"commands_handled"`
	LaggedMessages      uint64 `json:"lagged_messages"`
	CensoredMessages    uint64 `json:"censored_messages"`
	AllocMemMb          uint64 `json:"alloc_mem_mb"`
	NumGC               uint32 `json:"num_gc"`
	Uptime              time.Duration
}

// MonitoringManager gathers the counters updated by sessions and acceptors.
// All methods are safe for concurrent use.
type MonitoringManager struct {
	log       *slog.Logger
	startedAt time.Time

	accepted  atomic.Uint64
	acceptErr atomic.Uint64
	active    atomic.Int64
	joined    atomic.Uint64
	ended     atomic.Uint64
	published atomic.Uint64
	commands  atomic.Uint64
	lagged    atomic.Uint64
	censored  atomic.Uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, startedAt: time.Now()}
}

func (mm *MonitoringManager) IncrAccepted()     { mm.accepted.Add(1) }
func (mm *MonitoringManager) IncrAcceptErrors() { mm.acceptErr.Add(1) }
func (mm *MonitoringManager) IncrPublished()    { mm.published.Add(1) }
func (mm *MonitoringManager) IncrCommands()     { mm.commands.Add(1) }
func (mm *MonitoringManager) IncrCensored()     { mm.censored.Add(1) }

func (mm *MonitoringManager) AddLagged(n uint64) { mm.lagged.Add(n) }

// SessionStarted is called once a session reaches the active state.
func (mm *MonitoringManager) SessionStarted() {
	mm.joined.Add(1)
	mm.active.Add(1)
}

func (mm *MonitoringManager) SessionEnded() {
	mm.ended.Add(1)
	mm.active.Add(-1)
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MonitoringStats{
		ConnectionsAccepted: mm.accepted.Load(),
		AcceptErrors:        mm.acceptErr.Load(),
		ActiveSessions:      mm.active.Load(),
		SessionsJoined:      mm.joined.Load(),
		SessionsEnded:       mm.ended.Load(),
		MessagesPublished:   mm.published.Load(),
		CommandsHandled:     mm.commands.Load(),
		LaggedMessages:      mm.lagged.Load(),
		CensoredMessages:    mm.censored.Load(),
		AllocMemMb:          m.Alloc / 1024 / 1024,
		NumGC:               m.NumGC,
		Uptime:              time.Since(mm.startedAt).Truncate(time.Second),
	}
}

// Render writes the current counters as a two column table.
func (mm *MonitoringManager) Render(w io.Writer) {
	stats := mm.GetLatest()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	table.AppendBulk([][]string{
		{"Uptime", stats.Uptime.String()},
		{"Connections accepted", u64(stats.ConnectionsAccepted)},
		{"Accept errors", u64(stats.AcceptErrors)},
		{"Sessions joined", u64(stats.SessionsJoined)},
		{"Sessions ended", u64(stats.SessionsEnded)},
		{"Active sessions", strconv.FormatInt(stats.ActiveSessions, 10)},
		{"Messages published", u64(stats.MessagesPublished)},
		{"Commands handled", u64(stats.CommandsHandled)},
		{"Lagged messages", u64(stats.LaggedMessages)},
		{"Censored messages", u64(stats.CensoredMessages)},
		{"Heap (MB)", fmt.Sprintf("%d", stats.AllocMemMb)},
	})
	table.Render()
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
