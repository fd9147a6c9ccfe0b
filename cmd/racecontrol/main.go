package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/cartersuite/racecontrol/internal/command"
	"github.com/cartersuite/racecontrol/internal/config"
	"github.com/cartersuite/racecontrol/internal/metrics"
	"github.com/cartersuite/racecontrol/internal/supervisor"
	"github.com/cartersuite/racecontrol/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	loadEnv()

	statusAddr := flag.String("status-addr", getEnv("STATUS_ADDR", ":8080"), "address for the read-only status HTTP surface")
	replayPath := flag.String("replay", getEnv("REPLAY_PATH", ""), "path to a recorded telemetry session (newline-delimited JSON)")
	chatAddr := flag.String("chat-addr", getEnv("CHAT_ADDR", ""), "TCP address of the chat-command bridge; commands go to stdout when empty")
	skipGreen := flag.Bool("skip-wait-for-green", false, "developer aid: do not wait for the green flag")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*statusAddr, *replayPath, *chatAddr, *skipGreen); err != nil {
		log.Fatal(err)
	}
}

func run(statusAddr, replayPath, chatAddr string, skipGreen bool) error {
	source, closeSource, err := openSource(replayPath)
	if err != nil {
		return err
	}
	defer closeSource()

	sink, closeSink, err := openSink(chatAddr)
	if err != nil {
		return err
	}
	defer closeSink()

	met := metrics.New()
	sup := supervisor.New(source, sink, config.Default)
	sup.Metrics = met
	if skipGreen {
		sup.SkipWaitForGreen()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := chi.NewRouter()
	r.Get("/", landingPageHandler)
	r.Method("GET", "/status", sup.StatusHandler())
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetSupervisorState(int(sup.State())) }).ServeHTTP(w, req)
	})
	server := &http.Server{Addr: statusAddr, Handler: r}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("status surface listening", "addr", statusAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openSource(replayPath string) (telemetry.Source, func(), error) {
	if replayPath == "" {
		return nil, nil, errors.New("a telemetry source is required; pass -replay or set REPLAY_PATH")
	}
	f, err := os.Open(replayPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open replay: %w", err)
	}
	return telemetry.NewReplaySource(f), func() { closeOrLog(f) }, nil
}

func openSink(chatAddr string) (command.Sink, func(), error) {
	if chatAddr == "" {
		return command.NewLineSink(os.Stdout), func() {}, nil
	}
	conn, err := net.Dial("tcp", chatAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial chat bridge: %w", err)
	}
	return command.NewLineSink(conn), func() { closeOrLog(conn) }, nil
}

func closeOrLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("error closing", "err", err)
	}
}
