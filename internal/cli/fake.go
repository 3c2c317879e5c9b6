package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/studiowebux/taskload/internal/fakeapi"
)

// ServeFake runs the in-memory task manager on addr until ctx is cancelled
func ServeFake(ctx context.Context, addr string, seed int, logger *slog.Logger) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}

	server := fakeapi.NewServer(fakeapi.Config{Host: host, Port: port, Logging: true}, logger)
	if seed > 0 {
		server.Seed(seed)
	}
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	logger.Info("stopping fake task manager", "requests", len(server.GetLogs()))
	return server.Stop(shutdownCtx)
}
