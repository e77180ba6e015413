// Command client is a small interactive client for the chat server.
// Standard input is sent line by line; server output goes to standard output
// with notices highlighted.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	ServerAddr string `envconfig:"CHAT_SERVER_ADDR" default:"127.0.0.1:8080"`
	// CHAT_COLOURS highlights join/leave notices and command replies
	Colours bool `envconfig:"CHAT_COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to connect to %s: %w", cfg.ServerAddr, err)
	}
	defer conn.Close()

	go func() {
		_, _ = io.Copy(conn, os.Stdin)
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
		}
	}()

	if err := relay(conn, os.Stdout, newPainter(cfg.Colours)); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

// relay copies server output to w, painting each complete line.
// Partial lines such as the username prompt are written as they arrive.
func relay(r io.Reader, w io.Writer, paint func(string) string) error {
	buf := make([]byte, 4096)
	var pending string
	for {
		n, err := r.Read(buf)
		pending += string(buf[:n])
		for {
			i := strings.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			if _, werr := io.WriteString(w, paint(pending[:i+1])); werr != nil {
				return werr
			}
			pending = pending[i+1:]
		}
		if pending != "" {
			if _, werr := io.WriteString(w, pending); werr != nil {
				return werr
			}
			pending = ""
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func newPainter(enabled bool) func(string) string {
	if !enabled {
		return func(line string) string { return line }
	}
	notice := color.New(color.FgYellow, color.OpBold)
	reply := color.New(color.FgCyan)
	return func(line string) string {
		body := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(body, "*** ") && strings.HasSuffix(body, " ***"):
			return notice.Render(body) + "\n"
		case strings.HasPrefix(body, "Connected users: "),
			strings.HasPrefix(body, "Unknown command: "),
			body == "Goodbye!":
			return reply.Render(body) + "\n"
		default:
			return line
		}
	}
}
