package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sunfall-audio/tandem/internal/audio"
	"github.com/sunfall-audio/tandem/internal/worker"
)

var (
	workerWarmup int
	workerQueue  int
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one worker instance (spawned by the supervisor)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerWarmup, "warmup", 16, "blocks produced while warming")
	workerCmd.Flags().IntVar(&workerQueue, "queue", 64, "pending command capacity")
	rootCmd.AddCommand(workerCmd)
}

// runWorker speaks the envelope protocol on stdin/stdout; stdout belongs
// to the protocol, so all logging goes to stderr (the log default).
func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return worker.Serve(ctx, os.Stdin, os.Stdout, worker.Config{
		Period:       audio.BlockDuration,
		WarmupBlocks: workerWarmup,
		QueueCap:     workerQueue,
	})
}
