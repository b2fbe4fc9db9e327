// Command dxrt-run loads a compiled .dxnn model and drives it through the
// synchronous inference loop, the Go counterpart to the original runtime's
// run_sync_model example (examples/cpp/run_sync_model/run_sync_model.cpp),
// restructured as a cobra CLI the way the rest of the corpus builds its
// command-line tools.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dxrt-go/dxrt"
	"github.com/dxrt-go/dxrt/internal/driver"
	"github.com/dxrt-go/dxrt/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dxrt-run",
		Short: "Load and drive a dxrt NPU runtime model",
	}
	root.AddCommand(newRunCmd(), newInfoCmd())
	return root
}

type runFlags struct {
	devices     []string
	loopCount   int
	verbose     bool
	inputFiles  []string
	metricsAddr string
	bufferCount int
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <model.dxnn>",
		Short: "Run a model synchronously for a fixed number of iterations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(args[0], f)
		},
	}
	cmd.Flags().StringSliceVarP(&f.devices, "device", "d", nil, "device node to attach (repeatable), e.g. /dev/dxrt0")
	cmd.Flags().IntVarP(&f.loopCount, "loop", "n", 1, "number of inference iterations")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug-level logging")
	cmd.Flags().StringSliceVar(&f.inputFiles, "input", nil, "name=path binding of an input tensor to a raw binary file (repeatable)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9400) for the run's duration")
	cmd.Flags().IntVar(&f.bufferCount, "buffer-count", 0, "override the per-task buffer-set count (0 keeps the default)")
	return cmd
}

func newInfoCmd() *cobra.Command {
	var deviceNode string
	cmd := &cobra.Command{
		Use:   "info <model.dxnn>",
		Short: "Print a model's task graph and version metadata without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []dxrt.EngineOption{dxrt.WithSkipInferenceIO(true)}
			if deviceNode != "" {
				adapter, err := driver.OpenLinux(deviceNode)
				if err != nil {
					return fmt.Errorf("open device: %w", err)
				}
				defer adapter.Close()
				opts = append(opts, dxrt.WithAdapters(adapter))
			}
			e, err := dxrt.Open(args[0], opts...)
			if err != nil {
				return err
			}
			defer e.Close()

			fmt.Printf("model name:       %s\n", e.ModelName())
			fmt.Printf("model version:    %s\n", e.ModelVersion())
			fmt.Printf("compiler version: %s\n", e.CompilerVersion())
			fmt.Printf("format version:   %d\n", e.ModelFormatVersion())
			fmt.Printf("task order:       %s\n", strings.Join(e.TaskOrder(), ", "))
			fmt.Printf("inputs:           %s (%d bytes)\n", strings.Join(e.InputNames(), ", "), e.InputSize())
			fmt.Printf("outputs:          %s (%d bytes)\n", strings.Join(e.OutputNames(), ", "), e.OutputSize())
			fmt.Printf("multi-input:      %t\n", e.IsMultiInput())
			fmt.Printf("dynamic output:   %t\n", e.HasDynamicOutput())
			fmt.Printf("devices:          %d\n", e.DeviceCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceNode, "device", "", "device node to identify through, e.g. /dev/dxrt0")
	return cmd
}

func runMain(modelPath string, f *runFlags) error {
	logCfg := logging.DefaultConfig()
	if f.verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logCfg)
	defer logger.Sync()

	logger.Info("starting dxrt-run", "model", modelPath, "loop_count", f.loopCount)

	go dumpStacksOnSIGUSR1(logger)

	var adapters []driver.Adapter
	for _, node := range f.devices {
		a, err := driver.OpenLinux(node)
		if err != nil {
			return fmt.Errorf("open device %s: %w", node, err)
		}
		defer a.Close()
		adapters = append(adapters, a)
	}

	cfg := dxrt.DefaultConfig()
	cfg.Debug = f.verbose
	if f.bufferCount > 0 {
		cfg.BufferCount = f.bufferCount
	}

	opts := []dxrt.EngineOption{
		dxrt.WithEngineConfig(cfg),
		dxrt.WithEngineLogger(logger),
	}
	if len(adapters) > 0 {
		opts = append(opts, dxrt.WithAdapters(adapters...))
	}

	engine, err := dxrt.Open(modelPath, opts...)
	if err != nil {
		return fmt.Errorf("open model: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("engine close failed", "error", err)
		}
	}()

	if f.metricsAddr != "" {
		stopMetrics := serveMetrics(engine, f.metricsAddr, logger)
		defer stopMetrics()
	}

	input, err := buildInput(f.inputFiles)
	if err != nil {
		return err
	}

	ctx := make(chan os.Signal, 1)
	signal.Notify(ctx, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-ctx
		logger.Info("signal received, shutting down")
		close(done)
	}()

	start := time.Now()
	for i := 0; i < f.loopCount; i++ {
		select {
		case <-done:
			logger.Info("run interrupted", "completed", i)
			return nil
		default:
		}
		if _, err := engine.Run(input); err != nil {
			return fmt.Errorf("run iteration %d: %w", i, err)
		}
		logger.Debug("iteration complete", "index", i)
	}
	total := time.Since(start)

	avgLatency := total.Seconds() * 1000 / float64(f.loopCount)
	fmt.Println("-----------------------------------")
	fmt.Printf("Total Time: %.3f ms\n", total.Seconds()*1000)
	fmt.Printf("Average Latency: %.3f ms\n", avgLatency)
	fmt.Printf("FPS: %.2f frame/sec\n", 1000.0/avgLatency)
	fmt.Println("Success")
	fmt.Println("-----------------------------------")
	return nil
}

func buildInput(bindings []string) (map[string][]byte, error) {
	input := make(map[string][]byte, len(bindings))
	for _, b := range bindings {
		name, path, ok := strings.Cut(b, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input binding %q, expected name=path", b)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read input %s: %w", name, err)
		}
		input[name] = data
	}
	return input, nil
}

// serveMetrics starts a /metrics HTTP endpoint backed by the engine's
// PrometheusCollector and returns a function that shuts it down.
func serveMetrics(e *dxrt.Engine, addr string, logger *logging.Logger) func() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e.PrometheusCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		_ = srv.Close()
	}
}

// dumpStacksOnSIGUSR1 writes every goroutine's stack to stderr on SIGUSR1,
// the teacher's debugging hook for diagnosing a stuck run in the field.
func dumpStacksOnSIGUSR1(logger *logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	for range sigCh {
		logger.Info("dumping goroutine stacks")
		_ = pprof.Lookup("goroutine").WriteTo(os.Stderr, 1)
		runtime.Gosched()
	}
}
