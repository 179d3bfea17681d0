// Command relaymqd runs the AMQP 0-9-1 broker.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	_ "go.uber.org/automaxprocs"

	"github.com/relaymq/relaymq/broker"
	"github.com/relaymq/relaymq/internal/config"
	"github.com/relaymq/relaymq/internal/metrics"
)

func main() {
	var configPath string
	var logPath string

	root := &cobra.Command{
		Use:   "relaymqd",
		Short: "relaymqd runs the AMQP 0-9-1 message broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.Flags().StringVar(&logPath, "log-file", "", "path to a log file (rotated); stderr if empty")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("relaymqd: loading config: %w", err)
	}

	logger := newLogger(logPath)
	defer logger.Sync()

	b := broker.New(logger)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relaymqd: listening on %s: %w", cfg.ListenAddr, err)
	}
	logger.Info("amqp listener started", zap.String("addr", cfg.ListenAddr))

	go serveMetrics(cfg.MetricsAddr, logger)

	return b.Serve(ln)
}

func serveMetrics(addr string, logger *zap.Logger) {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Warn("metrics listener stopped", zap.Error(err))
	}
}

func newLogger(path string) *zap.Logger {
	if path == "" {
		logger, _ := zap.NewProduction()
		return logger
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), writer, zap.InfoLevel)
	return zap.New(core)
}
