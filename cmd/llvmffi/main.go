package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/engine"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/llvm"
	"github.com/wippyai/llvm-ffi/marshal"
	"github.com/wippyai/llvm-ffi/metrics"
	"github.com/wippyai/llvm-ffi/registry"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command and returns its exit code. Deferred cleanup
// runs before the process exits.
func execute(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("llvmffi", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		wasmFile    = fs.String("wasm", "", "Path to a wasm32 build of LLVM-C")
		configPath  = fs.String("config", "", "Path to a TOML config file")
		dumpPath    = fs.String("dump", "", "Write the routine and release tables as YAML to a file (- for stdout)")
		interactive = fs.Bool("i", false, "Interactive mode with TUI")
		verbose     = fs.Bool("v", false, "Debug logging")
		metricsAddr = fs.String("metrics", "", "Serve Prometheus metrics on this address")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "wasm":
			cfg.Wasm = *wasmFile
		case "v":
			cfg.Logging.Verbose = *verbose
		case "metrics":
			cfg.Metrics.Address = *metricsAddr
		}
	})
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	setLoggers(logger)

	if err := registry.Validate(); err != nil {
		logger.Error("routine tables are inconsistent", zap.Error(err))
		return 1
	}

	if *dumpPath != "" {
		if err := dumpTo(*dumpPath, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Address != "" {
		rec = metrics.New(metrics.WithRuntimeCollectors())
		stop := serveMetrics(cfg.Metrics.Address, rec, logger)
		defer stop()
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(stderr, "Error: interactive mode needs a terminal")
			return 1
		}
		if err := runInteractive(cfg, rec); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := run(context.Background(), cfg, rec, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *Config, rec *metrics.Recorder, w io.Writer) error {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	printTables(w, styled)

	if cfg.Wasm == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.Wasm)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	eng, err := engine.NewWazeroEngineWithConfig(ctx, cfg.engineConfig())
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close(ctx)

	lib, err := eng.Load(ctx, data)
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}
	defer lib.Close(ctx)

	a := newAdapter(lib, rec)
	report, err := probe(ctx, llvm.New(a))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nLibrary: %s\n", cfg.Wasm)
	report.print(w)
	return a.Close()
}

func newAdapter(lib llvmffi.Library, rec *metrics.Recorder) *call.Adapter {
	ledger := handle.NewLedger()
	if rec != nil {
		ledger.Subscribe(rec)
		return call.New(lib, call.WithLedger(ledger), call.WithObserver(rec))
	}
	return call.New(lib, call.WithLedger(ledger))
}

func setLoggers(l *zap.Logger) {
	engine.SetLogger(l.Named("engine"))
	call.SetLogger(l.Named("call"))
	handle.SetLogger(l.Named("handle"))
	marshal.SetLogger(l.Named("marshal"))
	registry.SetLogger(l.Named("registry"))
	llvm.SetLogger(l.Named("llvm"))
}

func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if cfg.Verbose {
		zc.Level.SetLevel(zap.DebugLevel)
	}
	return zc.Build()
}

func serveMetrics(addr string, rec *metrics.Recorder, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
