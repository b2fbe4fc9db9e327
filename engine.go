package dxrt

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dxrt-go/dxrt/internal/codec"
	"github.com/dxrt-go/dxrt/internal/constants"
	"github.com/dxrt-go/dxrt/internal/cpuexec"
	"github.com/dxrt-go/dxrt/internal/device"
	"github.com/dxrt-go/dxrt/internal/driver"
	"github.com/dxrt-go/dxrt/internal/jobpool"
	"github.com/dxrt-go/dxrt/internal/logging"
	"github.com/dxrt-go/dxrt/internal/model"
	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// Engine is the top-level inference engine (C14): it owns the parsed
// model's task graph, every accelerator device and its dispatcher trio
// (C7/C8/C10), every CPU fallback worker (C9), and the job/request pools
// (C13/C15, C12) that hand out one Request per task execution.
type Engine struct {
	mu     sync.Mutex
	closed bool

	container   *model.Container
	graph       *model.Graph
	tasks       []*taskgraph.Task
	tasksByName map[string]*taskgraph.Task
	outputOrder []string
	tailOffsets map[string]map[string]uint64

	// inputRegions[taskName][tensorName] locates that tensor's encoded
	// bytes within the task's single EncodedInput pool slot.
	inputRegions map[string]map[string]tensorRegion

	deviceList    []*device.Device
	devices       *device.DevicePool
	inputHandlers map[int]*device.InputHandler
	pending       map[int]*device.PendingRegistry

	cpuWorkers map[string]*cpuexec.CpuHandleWorker
	scalers    []*cpuexec.Scaler

	reqPool *request.Pool
	jobs    *jobpool.Pool

	cfg      *Config
	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
	codec    *codec.Codec

	ctx    context.Context
	cancel context.CancelFunc
}

type tensorRegion struct {
	offset int
	size   int
}

// EngineOption configures Open.
type EngineOption func(*engineOptions)

type engineOptions struct {
	parser             model.Parser
	minCompilerVersion string
	adapters           []driver.Adapter
	cpuExecutors       map[string]cpuexec.CPUExecutor
	config             *Config
	logger             *logging.Logger
	observer           Observer
	skipInferenceIO    bool
	processID          uint64
}

// WithModelParser supplies the Parser that decodes the `.dxnn` container
// bytes; required, since internal/model ships no built-in byte grammar.
func WithModelParser(p model.Parser) EngineOption {
	return func(o *engineOptions) { o.parser = p }
}

// WithMinCompilerVersion passes v to model.Open as the minimum compiler
// version. The value is recorded only; Open does not compare it against
// the container's compiler version and rejects no model for it.
func WithMinCompilerVersion(v string) EngineOption {
	return func(o *engineOptions) { o.minCompilerVersion = v }
}

// WithAdapters registers the transport adapters backing each accelerator
// device, in device-ID order. Omit entirely for a CPU-only model.
func WithAdapters(adapters ...driver.Adapter) EngineOption {
	return func(o *engineOptions) { o.adapters = adapters }
}

// WithCPUExecutor binds a CPUExecutor to the named CPU subgraph. Every
// ProcessorCPU subgraph in the model must have one bound before Open
// succeeds.
func WithCPUExecutor(taskName string, executor cpuexec.CPUExecutor) EngineOption {
	return func(o *engineOptions) { o.cpuExecutors[taskName] = executor }
}

// WithEngineConfig overrides the engine's runtime configuration.
func WithEngineConfig(cfg *Config) EngineOption {
	return func(o *engineOptions) { o.config = cfg }
}

// WithEngineLogger overrides the logger used for engine-level tracing and
// runtime event fan-out.
func WithEngineLogger(l *logging.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithEngineObserver wires a profiling Observer (C16); defaults to
// NoOpObserver.
func WithEngineObserver(obs Observer) EngineOption {
	return func(o *engineOptions) { o.observer = obs }
}

// WithSkipInferenceIO disables the input handler's device Write calls,
// useful for SimAdapter-backed tests that only want to exercise
// scheduling and dispatch.
func WithSkipInferenceIO(skip bool) EngineOption {
	return func(o *engineOptions) { o.skipInferenceIO = skip }
}

// WithProcessID overrides the proc_id tag the output handler matches
// NPU_RUN_RESP against; defaults to the OS process id.
func WithProcessID(id uint64) EngineOption {
	return func(o *engineOptions) { o.processID = id }
}

// Open loads a model from modelPath, builds its task graph, brings up
// every configured device and CPU worker, and returns a ready-to-run
// Engine. Per spec §4.12: parse, validate compiler version, build task
// graph, construct pools, start dispatcher threads.
func Open(modelPath string, opts ...EngineOption) (*Engine, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, WrapError("Open", err)
	}
	return OpenBytes(data, opts...)
}

// OpenBytes is Open, taking already-loaded container bytes directly;
// used by tests and examples that build an in-memory fixture instead of
// reading a `.dxnn` file from disk.
func OpenBytes(data []byte, opts ...EngineOption) (*Engine, error) {
	o := &engineOptions{cpuExecutors: make(map[string]cpuexec.CPUExecutor)}
	for _, opt := range opts {
		opt(o)
	}
	if o.config == nil {
		o.config = DefaultConfig()
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	if o.observer == nil {
		o.observer = NoOpObserver{}
	}
	if o.processID == 0 {
		o.processID = uint64(os.Getpid())
	}

	container, err := model.Open(data,
		model.WithParser(o.parser),
		model.WithMinCompilerVersion(o.minCompilerVersion),
	)
	if err != nil {
		return nil, NewError("Open", ErrInvalidModel, err.Error())
	}

	graph, err := model.BuildGraph(container)
	if err != nil {
		return nil, NewError("Open", ErrInvalidModel, err.Error())
	}

	plans, err := model.BuildTaskPlans(graph)
	if err != nil {
		return nil, NewError("Open", ErrInvalidModel, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		container:     container,
		graph:         graph,
		outputOrder:   container.OutputOrder,
		tasksByName:   make(map[string]*taskgraph.Task),
		inputRegions:  make(map[string]map[string]tensorRegion),
		inputHandlers: make(map[int]*device.InputHandler),
		pending:       make(map[int]*device.PendingRegistry),
		cpuWorkers:    make(map[string]*cpuexec.CpuHandleWorker),
		cfg:           o.config,
		logger:        o.logger,
		metrics:       NewMetrics(),
		observer:      o.observer,
		codec:         codec.New(),
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := e.buildDevices(ctx, o.adapters); err != nil {
		cancel()
		return nil, err
	}

	if err := e.buildTasks(plans, o); err != nil {
		cancel()
		return nil, err
	}

	e.tailOffsets = buildTailOffsets(graph, container.OutputOrder)
	e.reqPool = request.NewPool(constants.DefaultJobPoolDepth)
	e.jobs = jobpool.NewPool(e.tasks, e.outputOrder, e.tailOffsets, e.reqPool)

	e.startDeviceWorkers(ctx, o)

	if o.config.ShowModelInfo {
		e.logger.Info("model opened", "compiler_version", container.CompilerVersion,
			"format_version", container.FormatVersion, "tasks", len(e.tasks), "outputs", e.outputOrder)
	}

	return e, nil
}

func (e *Engine) buildDevices(ctx context.Context, adapters []driver.Adapter) error {
	e.deviceList = make([]*device.Device, 0, len(adapters))
	for i, adapter := range adapters {
		d := device.NewDevice(i, adapter, codec.New())
		if err := d.Identify(ctx); err != nil {
			return WrapError("Open", err)
		}
		e.deviceList = append(e.deviceList, d)
	}
	if len(e.deviceList) > 0 {
		e.devices = device.NewDevicePool(e.deviceList)
	}
	return nil
}

func (e *Engine) buildTasks(plans []model.TaskPlan, o *engineOptions) error {
	allDeviceIDs := make([]int, len(e.deviceList))
	for i, d := range e.deviceList {
		allDeviceIDs[i] = d.ID
	}

	for i, plan := range plans {
		var bound []int
		if plan.Info.Processor == model.ProcessorNPU {
			bound = allDeviceIDs
		}
		t := taskgraph.NewTask(i, plan, bound)
		e.tasksByName[t.Name] = t
		e.tasks = append(e.tasks, t)

		if t.IsNPU() {
			if err := e.attachNPUTask(t); err != nil {
				return err
			}
			continue
		}
		if err := e.attachCPUTask(t, o); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) attachNPUTask(t *taskgraph.Task) error {
	if len(e.deviceList) == 0 {
		return NewTaskError("Open", -1, t.ID, ErrInvalidOperation,
			fmt.Sprintf("task %q requires an NPU device but none were configured", t.Name))
	}

	inSize, regions := layoutEncodedRegions(t.Inputs)
	e.inputRegions[t.Name] = regions
	outSize := totalEncodedBytes(t.Outputs)
	userOutSize := totalUserBytes(t.Outputs)

	pools := taskgraph.NewBufferPools(len(t.BoundDevices), e.cfg.BufferCount, inSize, userOutSize, outSize, true)

	var cache *taskgraph.MemCache
	if alloc := e.deviceList[0].Alloc; alloc != nil && outSize > 0 {
		c, err := taskgraph.NewMemCache(alloc, uint64(outSize))
		if err == nil {
			cache = c
		}
	}
	t.AttachPools(pools, cache)

	for _, d := range e.deviceList {
		if err := d.RegisterTask(t); err != nil {
			return WrapError("Open", err)
		}
	}
	return nil
}

func (e *Engine) attachCPUTask(t *taskgraph.Task, o *engineOptions) error {
	executor, ok := o.cpuExecutors[t.Name]
	if !ok {
		return NewTaskError("Open", -1, t.ID, ErrInvalidArgument,
			fmt.Sprintf("no CPUExecutor registered for CPU task %q", t.Name))
	}

	userOutSize := totalUserBytes(t.Outputs)
	pools := taskgraph.NewBufferPools(0, e.cfg.BufferCount, 0, userOutSize, 0, false)
	t.AttachPools(pools, nil)

	initial := cpuexec.InitialThreadCount(executor.ModelSizeBytes())
	maxThreads := e.cfg.MaxCPUThreads
	if eff := cpuexec.EffectiveMaxThreads(); eff < maxThreads {
		maxThreads = eff
	}
	worker := cpuexec.NewCpuHandleWorker(t.Name, executor, initial, e.cfg.MinCPUThreads, maxThreads, e.cfg.BufferCount*4)
	e.cpuWorkers[t.Name] = worker

	if e.cfg.DynamicCPUThread {
		windowSize := e.cfg.BufferCount * max(len(e.deviceList), 1)
		scaler := cpuexec.NewScaler(worker, windowSize)
		e.scalers = append(e.scalers, scaler)
		go scaler.Run(e.ctx)
	}
	return nil
}

func (e *Engine) startDeviceWorkers(ctx context.Context, o *engineOptions) {
	for _, d := range e.deviceList {
		pending := device.NewPendingRegistry()
		e.pending[d.ID] = pending

		input := device.NewInputHandler(d, pending, e.cfg.BufferCount*4, o.skipInferenceIO)
		e.inputHandlers[d.ID] = input
		go input.Run(ctx)

		evt := device.NewEventHandler(d, e)
		go evt.Run(ctx)

		numCh := 1
		if d.Info != nil && d.Info.NumDMAChannels > 0 {
			numCh = d.Info.NumDMAChannels
		}
		for ch := 0; ch < numCh; ch++ {
			out := device.NewOutputHandler(d, pending, ch, o.processID)
			go out.Run(ctx)
		}
	}
}

// OnRuntimeEvent implements device.EventSink, fanning classified per-device
// runtime events out to the engine's logger (spec §4.13).
func (e *Engine) OnRuntimeEvent(level, eventType, code int, message string) {
	switch level {
	case device.EventLevelError:
		e.logger.Error("runtime event", "type", eventType, "code", code, "msg", message)
	case device.EventLevelWarning:
		e.logger.Warn("runtime event", "type", eventType, "code", code, "msg", message)
	default:
		e.logger.Info("runtime event", "type", eventType, "code", code, "msg", message)
	}
}

// Close stops every device/CPU worker goroutine and terminates each
// device's transport. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	for _, w := range e.cpuWorkers {
		w.Close()
	}
	for _, d := range e.deviceList {
		if err := d.Terminate(context.Background()); err != nil {
			e.logger.Warn("device terminate failed", "device", d.ID, "error", err)
		}
	}
	e.metrics.Stop()
	if e.cfg.ShowProfile {
		snap := e.metrics.Snapshot()
		e.logger.Info("engine closed", "tasks_completed", snap.TasksCompleted, "tasks_failed", snap.TasksFailed,
			"avg_latency_ns", snap.AvgLatencyNs, "tasks_per_second", snap.TasksPerSecond)
	}
	return nil
}

// InputNames returns the declared input tensor names of every head task.
func (e *Engine) InputNames() []string {
	var names []string
	for _, t := range e.tasks {
		if !t.IsHead {
			continue
		}
		for _, in := range t.Inputs {
			names = append(names, in.Name)
		}
	}
	return names
}

// OutputNames returns the model's declared output tensor order.
func (e *Engine) OutputNames() []string {
	return append([]string(nil), e.outputOrder...)
}

// TaskOrder returns task names in topological dispatch order.
func (e *Engine) TaskOrder() []string {
	names := make([]string, len(e.tasks))
	for i, t := range e.tasks {
		names[i] = t.Name
	}
	return names
}

// ModelFormatVersion returns the container's on-disk format version.
func (e *Engine) ModelFormatVersion() int {
	return e.container.FormatVersion
}

// CompilerVersion returns the compiler version string the model was
// built with.
func (e *Engine) CompilerVersion() string {
	return e.container.CompilerVersion
}

// DeviceCount reports how many accelerator devices this engine owns.
func (e *Engine) DeviceCount() int {
	return len(e.deviceList)
}

// MetricsSnapshot returns a point-in-time copy of the engine's profiling
// counters (C16).
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// ValidateDevice issues a lightweight status probe against every device
// and reports the first failure: a blocked device or a failed GET_STATUS
// ioctl. It takes no inputs, runs no inference and does not target a
// single device.
func (e *Engine) ValidateDevice(ctx context.Context) error {
	for _, d := range e.deviceList {
		if d.Blocked() {
			return NewDeviceError("ValidateDevice", d.ID, ErrDeviceIO, "device is blocked")
		}
		if _, err := d.Adapter.Ioctl(ctx, driver.CmdGetStatus, nil, 0); err != nil {
			return NewDeviceError("ValidateDevice", d.ID, ErrDeviceIO, err.Error())
		}
	}
	return nil
}

// DriverVersion returns each device's reported driver version string, in
// device-ID order.
func (e *Engine) DriverVersion() []string {
	out := make([]string, len(e.deviceList))
	for i, d := range e.deviceList {
		if d.Info != nil {
			out[i] = d.Info.DriverVersion
		}
	}
	return out
}

// FirmwareVersions returns each device's reported firmware version
// string, in device-ID order.
func (e *Engine) FirmwareVersions() []string {
	out := make([]string, len(e.deviceList))
	for i, d := range e.deviceList {
		if d.Info != nil {
			out[i] = d.Info.FirmwareVersion
		}
	}
	return out
}

// ModelName returns the compiled model's declared name (spec §1's
// model_name()).
func (e *Engine) ModelName() string {
	return e.container.Name
}

// ModelVersion returns the compiled model's declared version string
// (spec §1's model_version()).
func (e *Engine) ModelVersion() string {
	return e.container.Version
}

// InputTensorSizes returns every head task's input tensors by declared
// (unencoded) byte size (spec §1's input_tensor_sizes()).
func (e *Engine) InputTensorSizes() map[string]int {
	sizes := make(map[string]int)
	for _, t := range e.tasks {
		if !t.IsHead {
			continue
		}
		for _, in := range t.Inputs {
			sizes[in.Name] = tensorUserSize(in)
		}
	}
	return sizes
}

// OutputTensorSizes returns the byte size of every declared output tensor,
// keyed by name, for each name in OutputOrder (spec §1's
// output_tensor_sizes()).
func (e *Engine) OutputTensorSizes() map[string]int {
	sizes := make(map[string]int)
	for _, name := range e.outputOrder {
		if spec, ok := e.outputTensorSpec(name); ok {
			sizes[name] = tensorUserSize(spec)
		}
	}
	return sizes
}

// InputSize returns the sum of every head task's input tensor sizes
// (spec §1's input_size(), and spec.md:322's worked example).
func (e *Engine) InputSize() int {
	total := 0
	for _, size := range e.InputTensorSizes() {
		total += size
	}
	return total
}

// OutputSize returns the sum of every declared output tensor's size
// (spec §1's output_size(), and spec.md:322's worked example).
func (e *Engine) OutputSize() int {
	total := 0
	for _, name := range e.outputOrder {
		if spec, ok := e.outputTensorSpec(name); ok {
			total += tensorUserSize(spec)
		}
	}
	return total
}

// outputTensorSpec locates the TensorSpec backing a declared output
// tensor name by scanning each task's own Outputs.
func (e *Engine) outputTensorSpec(name string) (model.TensorSpec, bool) {
	for _, t := range e.tasks {
		for _, out := range t.Outputs {
			if out.Name == name {
				return out, true
			}
		}
	}
	return model.TensorSpec{}, false
}

// IsMultiInput reports whether the model has more than one head task, so
// a caller must drive it via RunMultiInput rather than Run (spec §1's
// is_multi_input()).
func (e *Engine) IsMultiInput() bool {
	count := 0
	for _, t := range e.tasks {
		if t.IsHead {
			count++
		}
	}
	return count > 1
}

// HasDynamicOutput reports whether any task produces a filter-count
// dependent output whose size isn't fixed at compile time — true for
// PPU/PPCPU post-processor tasks (spec §1's has_dynamic_output(), spec
// §4.6's PPU/PPCPU decode path).
func (e *Engine) HasDynamicOutput() bool {
	for _, t := range e.tasks {
		if t.ModelType == model.ModelTypePPU || t.ModelType == model.ModelTypePPCPU {
			return true
		}
	}
	return false
}

// Latency returns the average per-task latency observed so far (spec
// §1's latency()).
func (e *Engine) Latency() time.Duration {
	return time.Duration(e.metrics.Snapshot().AvgLatencyNs)
}

// InferenceTime returns the cumulative time spent executing tasks across
// the engine's lifetime (spec §1's inference_time()).
func (e *Engine) InferenceTime() time.Duration {
	return time.Duration(e.metrics.TotalLatencyNs.Load())
}

// layoutEncodedRegions lays out every input tensor's encoded bytes
// sequentially within one EncodedInput pool slot, returning the slot's
// total size and each tensor's offset/size within it.
func layoutEncodedRegions(specs []model.TensorSpec) (int, map[string]tensorRegion) {
	regions := make(map[string]tensorRegion, len(specs))
	offset := 0
	for _, spec := range specs {
		size := tensorEncodedSize(spec)
		regions[spec.Name] = tensorRegion{offset: offset, size: size}
		offset += size
	}
	return offset, regions
}

func tensorEncodedSize(spec model.TensorSpec) int {
	shape := spec.Shape
	if len(spec.EncodedShape) > 0 {
		shape = spec.EncodedShape
	}
	return shapeElemCount(shape) * DataType(spec.DataType).ElementSize()
}

func tensorUserSize(spec model.TensorSpec) int {
	return shapeElemCount(spec.Shape) * DataType(spec.DataType).ElementSize()
}

func totalEncodedBytes(specs []model.TensorSpec) int {
	total := 0
	for _, s := range specs {
		total += tensorEncodedSize(s)
	}
	return total
}

func totalUserBytes(specs []model.TensorSpec) int {
	total := 0
	for _, s := range specs {
		total += tensorUserSize(s)
	}
	return total
}

func shapeElemCount(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

func tensorRowCol(shape []int64) (int, int) {
	if len(shape) < 2 {
		return shapeElemCount(shape), 1
	}
	row := 1
	for _, d := range shape[:len(shape)-1] {
		row *= int(d)
	}
	return row, int(shape[len(shape)-1])
}

// buildTailOffsets assigns each tail task's output tensors a byte offset
// into the model-global output buffer, in declared OutputOrder, so a
// caller-supplied buffer can receive every tail task's result at the
// right place (spec §4.9's "tail task writes directly to the user's
// output buffer").
func buildTailOffsets(g *model.Graph, outputOrder []string) map[string]map[string]uint64 {
	result := make(map[string]map[string]uint64)
	var offset uint64
	for _, name := range outputOrder {
		producer, ok := g.TensorOf[name]
		if !ok {
			continue
		}
		sg, ok := g.Subgraph(producer)
		if !ok {
			continue
		}
		var size uint64
		for _, out := range sg.Outputs {
			if out.Name == name {
				size = uint64(tensorUserSize(out))
				break
			}
		}
		if result[producer] == nil {
			result[producer] = make(map[string]uint64)
		}
		result[producer][name] = offset
		offset += size
	}
	return result
}

func codecLayoutOf(l model.Layout) codec.Layout {
	return codec.Layout(l)
}

func codecTransposeOf(t model.TransposeKind) codec.TransposeKind {
	return codec.TransposeKind(t)
}

var _ device.EventSink = (*Engine)(nil)
var _ jobpool.Dispatcher = (*Engine)(nil)
