package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"nixls/internal/config"
	"nixls/internal/server"
	"nixls/internal/worker"
)

var (
	flagConfig      string
	flagVerbosity   int
	flagWaitWorkers bool
	flagWorkerKind  string
)

var rootCmd = &cobra.Command{
	Use:   "nixls",
	Short: "Language server for the Nix expression language",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	Short:  "Run as an evaluation or option worker (spawned by the controller)",
	RunE:   runWorker,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagVerbosity, "verbose", "v", 1, "log verbosity")
	rootCmd.Flags().StringVar(&flagConfig, "config", config.DefaultFile, "path of the JSON configuration file")
	rootCmd.Flags().BoolVar(&flagWaitWorkers, "wait-workers", false, "wait for all workers to finish before shutdown (test mode)")
	workerCmd.Flags().StringVar(&flagWorkerKind, "kind", string(worker.KindEval), "worker kind: eval or option")
	rootCmd.AddCommand(workerCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	commonlog.Configure(flagVerbosity, nil)

	// Mirror logs to a file in a nixls folder under the temp dir; stdout belongs to
	// the transport.
	logsDir := filepath.Join(os.TempDir(), "nixls")
	if err := os.MkdirAll(logsDir, 0o755); err == nil {
		logFile, err := os.OpenFile(
			filepath.Join(logsDir, "nixls.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0o666,
		)
		if err == nil {
			defer logFile.Close()
			log.SetOutput(io.MultiWriter(os.Stderr, logFile))
			log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
		}
	}
	log.Println("starting nixls...")

	cfg := config.Default()
	if _, err := os.Stat(flagConfig); err == nil {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			log.Printf("ignoring unreadable config: %v", err)
		} else {
			cfg = loaded
		}
	}

	var opts []server.Option
	if flagWaitWorkers {
		opts = append(opts, server.WithWaitWorker())
	}
	srv := server.New(cfg, opts...)
	srv.WatchConfig(flagConfig)
	return srv.RunStdio()
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Workers log to stderr only; stdout carries the IPC channel.
	commonlog.Configure(0, nil)
	return worker.Run(context.Background(), worker.Kind(flagWorkerKind))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
