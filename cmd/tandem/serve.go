package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sunfall-audio/tandem/internal/audio"
	"github.com/sunfall-audio/tandem/internal/config"
	"github.com/sunfall-audio/tandem/internal/control"
	"github.com/sunfall-audio/tandem/internal/dsp"
	"github.com/sunfall-audio/tandem/internal/patch"
	"github.com/sunfall-audio/tandem/internal/proc"
	"github.com/sunfall-audio/tandem/internal/stream"
	"github.com/sunfall-audio/tandem/internal/supervisor"
	"github.com/sunfall-audio/tandem/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("tandem starting up...")

	wcfg := worker.Config{
		Period:       audio.BlockDuration,
		WarmupBlocks: cfg.WarmupBlocks,
		QueueCap:     cfg.QueueCapacity,
	}
	var spawner proc.Spawner
	switch cfg.WorkerMode {
	case "inproc":
		spawner = proc.PipeSpawner(worker.ServeFunc(wcfg))
	default:
		spawner = proc.ExecSpawner("worker",
			"--warmup", strconv.Itoa(cfg.WarmupBlocks),
			"--queue", strconv.Itoa(cfg.QueueCapacity),
		)
	}

	sup := supervisor.New(supervisor.Config{
		RingCapacity:     cfg.RingCapacity,
		QueueCapacity:    cfg.QueueCapacity,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		PollInterval:     cfg.PollInterval,
		StartTimeout:     supervisor.DefaultConfig().StartTimeout,
		PrimeTimeout:     cfg.PrimeTimeout,
		RespawnAttempts:  cfg.RespawnAttempts,
		RespawnBackoff:   supervisor.DefaultConfig().RespawnBackoff,
	}, spawner, dsp.DefaultSpec())

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start redundancy pair: %w", err)
	}

	// Real-time consumer: active ring -> monitor frames
	consumer := supervisor.NewConsumer(sup)
	go consumer.Run(ctx)

	// Broadcaster: fan out monitor frames to all listeners
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, consumer.Frames())

	router := patch.NewRouter(sup, cfg.PrimeTimeout)

	mux := http.NewServeMux()
	control.NewServer(sup, router).Register(mux)
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster))
	mux.Handle("/offer", stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate))

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("tandem live on %s (worker mode: %s)", addr, cfg.WorkerMode)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
