package observability

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestMonitoringManager_Counters(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mm.IncrAccepted()
			mm.SessionStarted()
			mm.IncrPublished()
			mm.AddLagged(2)
		}()
	}
	wg.Wait()
	for i := 0; i < 5; i++ {
		mm.SessionEnded()
	}
	mm.IncrAcceptErrors()
	mm.IncrCommands()
	mm.IncrCensored()

	stats := mm.GetLatest()
	req.Equal(uint64(20), stats.ConnectionsAccepted)
	req.Equal(uint64(20), stats.SessionsJoined)
	req.Equal(uint64(5), stats.SessionsEnded)
	req.Equal(int64(15), stats.ActiveSessions)
	req.Equal(uint64(20), stats.MessagesPublished)
	req.Equal(uint64(40), stats.LaggedMessages)
	req.Equal(uint64(1), stats.AcceptErrors)
	req.Equal(uint64(1), stats.CommandsHandled)
	req.Equal(uint64(1), stats.CensoredMessages)
}

func TestMonitoringManager_Render(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))
	mm.IncrAccepted()
	mm.SessionStarted()

	var buf bytes.Buffer
	mm.Render(&buf)

	out := buf.String()
	req.Contains(out, "METRIC")
	req.Contains(out, "Connections accepted")
	req.Contains(out, "Active sessions")
}
