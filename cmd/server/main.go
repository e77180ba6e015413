package main

import (
	"context"
	"fmt"
	"line-chat/contract"
	"line-chat/internal"
	"line-chat/moderation"
	"line-chat/observability"
	"line-chat/runtime"
	"line-chat/runtime/workers"
	"line-chat/transport"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component, serves until a signal arrives and shuts down.
// Returning instead of exiting lets the deferred cleanups run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, err
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(strings.ToUpper(config.LogLevel))

	// 2. Moderation, only when a dictionary directory is configured
	censor, err := buildCensor(config.CensoredDir, charReplacement, log)
	if err != nil {
		return exitConfig, err
	}

	// 3. Listeners. A bind failure is fatal.
	listener, err := transport.ListenTCP(config.Address())
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.Address(), err)
	}
	listeners := []contract.Listener{listener}

	if address := config.WebSocketAddress(); address != "" {
		wsListener, err := transport.ListenWebSocket(address, "/ws", log)
		if err != nil {
			_ = listener.Close()
			return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
		}
		listeners = append(listeners, wsListener)
		log.Info("WebSocket transport enabled", "address", address, "path", "/ws")
	}

	// 4. Setup Supervision & Orchestration
	monitoring := observability.NewMonitoringManager(log)
	orchestrator := runtime.NewOrchestrator(
		log,
		workers.NewSupervisor(log, config.RestartInterval),
		runtime.NewRegistry(),
		runtime.NewBus(config.BusCapacity),
		monitoring,
		censor,
		config.MaxLineLength,
		config.HeartbeatInterval,
		config.ShutdownTimeout,
	)
	orchestrator.AddListener(listeners...)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("Chat server listening", "address", listener.Addr().String(), "at", time.Now().UTC())
		errChan <- orchestrator.Start(ctx)
	}()

	// 6. Wait for Stop or Error
	code, runErr := exitOK, error(nil)
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		if err != nil {
			code, runErr = exitRuntime, fmt.Errorf("orchestrator failed: %w", err)
		}
	}

	// 7. Final Cleanup
	if err := orchestrator.Stop(); err != nil {
		log.Warn("Shutdown incomplete", "error", err)
	}
	monitoring.Render(os.Stdout)
	log.Info("Program stopped")
	return code, runErr
}

// buildCensor returns a nil Censor when moderation is disabled.
func buildCensor(dir string, replacement rune, log *slog.Logger) (contract.Censor, error) {
	if dir == "" {
		return nil, nil
	}

	data, err := moderation.NewCensoredLoader(os.DirFS(dir)).LoadAll(".")
	if err != nil {
		return nil, fmt.Errorf("loading censored words from %s: %w", dir, err)
	}
	log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))

	moderator, err := moderation.NewModerator(data.Words, replacement, log)
	if err != nil {
		return nil, err
	}
	return moderator, nil
}
