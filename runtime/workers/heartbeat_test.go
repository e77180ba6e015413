package workers

import (
	"context"
	"line-chat/mocks"
	"line-chat/observability"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHeartbeat_Reports_Registry_And_Bus(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)
	bus := mocks.NewMockIBus(ctrl)

	// Given a heartbeat ticking fast
	beats := make(chan struct{}, 16)
	registry.EXPECT().Len().DoAndReturn(func() int {
		select {
		case beats <- struct{}{}:
		default:
		}
		return 2
	}).MinTimes(1)
	bus.EXPECT().Subscribers().Return(2).MinTimes(1)

	w := NewHeartbeatWorker(log, registry, bus, observability.NewMonitoringManager(log), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Then it reads the registry and the bus at least once
	select {
	case <-beats:
	case <-time.After(time.Second):
		req.Fail("no heartbeat observed")
	}

	// And stops cleanly on cancellation
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("heartbeat did not stop")
	}
}

func TestHeartbeat_Disabled(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)

	w := NewHeartbeatWorker(log, mocks.NewMockIRegistry(ctrl), mocks.NewMockIBus(ctrl),
		observability.NewMonitoringManager(log), 0)
	req.NoError(w.Run(context.Background()))
}
