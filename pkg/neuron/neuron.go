// Package neuron implements the Managed Neuron (C3): one neuron's
// interaction loop with a language model, including prompt assembly,
// caching, the tool iteration loop, the circuit breaker, and learning
// feedback from backward signals.
package neuron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axonmesh/axonmesh/pkg/breaker"
	"github.com/axonmesh/axonmesh/pkg/cache"
	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/lm"
	"github.com/axonmesh/axonmesh/pkg/memory"
	"github.com/axonmesh/axonmesh/pkg/registry"
	"github.com/axonmesh/axonmesh/pkg/resource"
	"github.com/axonmesh/axonmesh/pkg/signal"
	"github.com/axonmesh/axonmesh/pkg/tools"
)

// State is the managed neuron's lifecycle state.
type State int32

const (
	Starting State = iota
	Running
	Processing
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Processing:
		return "Processing"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// opsQueueCapacity bounds the per-neuron single-flight admission queue.
// The worker goroutine drains it one operation at a time, which is what
// gives the "exactly one signal processes at a time" guarantee.
const opsQueueCapacity = 64

// operation is one queued process_signal call.
type operation struct {
	ctx    context.Context
	sig    signal.Signal
	result chan string
	err    chan error
}

// Config configures a managed neuron at construction. Collaborators
// (LM client, tool registry, cache, memory store) are explicit handles
// passed in rather than resolved through a global singleton.
type Config struct {
	ID                  string
	Layer               signal.Layer
	ForwardConnections  []string
	BackwardConnections []string
	SystemPrompt        string

	LM           lm.Client
	Tools        *tools.Registry
	Cache        *cache.Cache
	Memory       *memory.Store
	BreakerThreshold int
	BreakerBackoff   time.Duration

	// Resources, if set, gates the LM/tool loop: Allocate is called
	// before each forward signal's expensive call and Release after,
	// per §2/§4.10 ("Resource Manager (C10) gates neuron allocation and
	// is consulted before expensive calls"). A neuron built without a
	// resource manager skips the gate entirely.
	Resources         resource.Manager
	ResourceCPU       float64
	ResourceMemoryMiB float64

	LMTimeout         time.Duration
	MaxToolIterations int
	LearningEnabled   bool
}

// Neuron is the managed neuron runtime.
type Neuron struct {
	id                  string
	layer               signal.Layer
	forwardConnections  map[string]struct{}
	backwardConnections map[string]struct{}

	lmClient  lm.Client
	toolReg   *tools.Registry
	respCache *cache.Cache
	memStore  *memory.Store

	resources         resource.Manager
	resourceCPU       float64
	resourceMemoryMiB float64

	breaker  *breaker.Breaker
	adjuster *PromptAdjuster
	matcher  *PatternMatcher

	lmTimeout         time.Duration
	maxToolIterations int
	learningEnabled   bool

	ops    chan *operation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state            atomic.Int32
	signalsProcessed atomic.Uint64
	errorCount       atomic.Uint64
	startedAt        time.Time

	lastSignalMu sync.RWMutex
	lastSignal   time.Time
}

// New constructs a managed neuron. It does not start the worker goroutine;
// call Start for that.
func New(cfg Config) *Neuron {
	fwd := make(map[string]struct{}, len(cfg.ForwardConnections))
	for _, id := range cfg.ForwardConnections {
		fwd[id] = struct{}{}
	}
	bwd := make(map[string]struct{}, len(cfg.BackwardConnections))
	for _, id := range cfg.BackwardConnections {
		bwd[id] = struct{}{}
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	backoff := cfg.BreakerBackoff
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	lmTimeout := cfg.LMTimeout
	if lmTimeout <= 0 {
		lmTimeout = 30 * time.Second
	}
	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 5
	}
	resourceCPU := cfg.ResourceCPU
	if resourceCPU <= 0 {
		resourceCPU = 0.25
	}
	resourceMem := cfg.ResourceMemoryMiB
	if resourceMem <= 0 {
		resourceMem = 128
	}

	n := &Neuron{
		id:                  cfg.ID,
		layer:               cfg.Layer,
		forwardConnections:  fwd,
		backwardConnections: bwd,
		lmClient:            cfg.LM,
		toolReg:             cfg.Tools,
		respCache:           cfg.Cache,
		memStore:            cfg.Memory,
		resources:           cfg.Resources,
		resourceCPU:         resourceCPU,
		resourceMemoryMiB:   resourceMem,
		breaker:             breaker.New(threshold, backoff),
		adjuster:            NewPromptAdjuster(cfg.SystemPrompt),
		matcher:             NewPatternMatcher(3, 16),
		lmTimeout:           lmTimeout,
		maxToolIterations:   maxIter,
		learningEnabled:     cfg.LearningEnabled,
		ops:                 make(chan *operation, opsQueueCapacity),
	}
	n.state.Store(int32(Starting))
	return n
}

// ID satisfies registry.Neuron.
func (n *Neuron) ID() string { return n.id }

// Layer satisfies registry.Neuron.
func (n *Neuron) Layer() signal.Layer { return n.layer }

// Start transitions the neuron to Running and starts its worker loop.
func (n *Neuron) Start() {
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.startedAt = time.Now()
	n.state.Store(int32(Running))
	n.wg.Add(1)
	go n.run()
}

func (n *Neuron) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			n.drain()
			return
		case op := <-n.ops:
			n.handle(op)
		}
	}
}

func (n *Neuron) drain() {
	for {
		select {
		case op := <-n.ops:
			op.err <- coreerr.New(coreerr.KindTimeout, "neuron shutting down")
		default:
			return
		}
	}
}

func (n *Neuron) handle(op *operation) {
	n.state.Store(int32(Processing))
	defer n.state.Store(int32(Running))

	result, err := n.process(op.ctx, op.sig)
	if err != nil {
		op.err <- err
		return
	}
	op.result <- result
}

// ProcessSignal submits sig for processing and blocks for the result,
// honoring ctx cancellation while waiting. This is the neuron's single
// public process_signal operation (§4.3).
func (n *Neuron) ProcessSignal(ctx context.Context, sig signal.Signal) (string, error) {
	if State(n.state.Load()) == Stopped {
		return "", coreerr.New(coreerr.KindNotFound, "neuron "+n.id+" is stopped")
	}

	op := &operation{ctx: ctx, sig: sig, result: make(chan string, 1), err: make(chan error, 1)}
	select {
	case n.ops <- op:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-op.result:
		return r, nil
	case err := <-op.err:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// process runs the full admission -> prompt -> LM/tool loop -> bookkeeping
// algorithm for a forward signal, or the short-circuited learning path for
// a backward signal (§4.3 step 0).
func (n *Neuron) process(ctx context.Context, sig signal.Signal) (string, error) {
	if sig.Direction == signal.Backward {
		return n.processBackward(sig)
	}
	return n.processForward(ctx, sig)
}

const backwardAck = "gradient acknowledged"

func (n *Neuron) processBackward(sig signal.Signal) (string, error) {
	n.signalsProcessed.Add(1)
	n.touchLastSignal()

	if !n.learningEnabled || sig.Gradient == nil {
		return backwardAck, nil
	}

	grad := *sig.Gradient
	if pattern, found := n.matcher.Observe(grad.ErrorKind, grad.Adjustments); found {
		n.writeMemory(memory.Record{
			NeuronID:   n.id,
			Layer:      string(n.layer),
			Kind:       memory.KindLearning,
			Content:    pattern.SuggestedStrategy,
			Importance: 0.8,
			Timestamp:  time.Now(),
		})
	}
	n.adjuster.Apply(grad.ErrorKind, grad.Adjustments)
	return backwardAck, nil
}

func (n *Neuron) processForward(ctx context.Context, sig signal.Signal) (string, error) {
	// Step 1: admission.
	if !n.breaker.Allow() {
		return "", coreerr.New(coreerr.KindCircuitOpen, "neuron "+n.id+" breaker is open")
	}

	prompt := n.assemblePrompt(sig)

	// Step 4: cache lookup.
	var cacheKey string
	if n.respCache != nil {
		cacheKey = cache.Key(n.layer, sig.SenderID, prompt)
		if cached, ok := n.respCache.Get(cacheKey); ok {
			n.signalsProcessed.Add(1)
			n.touchLastSignal()
			n.writeThrough(sig, false)
			return cached, nil
		}
	}

	release, err := n.acquireResources()
	if err != nil {
		return "", err
	}
	defer release()

	transcript, toolUsed, err := n.toolLoop(ctx, prompt)
	if err != nil {
		n.errorCount.Add(1)
		n.breaker.Failure()
		return "", err
	}

	// Step 6/7: bookkeeping and breaker success.
	n.signalsProcessed.Add(1)
	n.touchLastSignal()
	n.breaker.Success()

	// Step 8: cache store.
	if n.respCache != nil {
		n.respCache.Put(cacheKey, transcript)
	}

	// Step 9: memory write-through.
	n.writeThrough(sig, toolUsed)

	return transcript, nil
}

// acquireResources gates the LM/tool loop behind the resource manager:
// it allocates this neuron's declared CPU/memory share before the call
// and returns a release function to free it afterward. A neuron built
// without a resource manager (Resources == nil) skips the gate.
func (n *Neuron) acquireResources() (func(), error) {
	if n.resources == nil {
		return func() {}, nil
	}
	alloc, err := n.resources.Allocate(resource.Request{
		NeuronID:  n.id,
		CPUCores:  n.resourceCPU,
		MemoryMiB: n.resourceMemoryMiB,
	})
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindResourceExhaust, "resource allocation denied for "+n.id, err)
	}
	return func() { _ = n.resources.Release(alloc.ID) }, nil
}

func (n *Neuron) writeThrough(sig signal.Signal, toolUsed bool) {
	n.writeMemory(memory.Record{
		NeuronID:   n.id,
		Layer:      string(n.layer),
		Kind:       memory.KindTask,
		Content:    sig.ID,
		Metadata:   map[string]string{"from_neuron": sig.SenderID},
		Importance: 0.7,
		Timestamp:  time.Now(),
	})
	n.writeMemory(memory.Record{
		NeuronID:   n.id,
		Layer:      string(n.layer),
		Kind:       memory.KindResult,
		Content:    sig.ID,
		Metadata:   map[string]string{"tool_used": strconv.FormatBool(toolUsed)},
		Importance: 0.6,
		Timestamp:  time.Now(),
	})
}

// writeMemory never fails the neuron: memory errors are logged and
// otherwise ignored, per §4.3's "Memory errors: log; never fail the
// neuron" rule.
func (n *Neuron) writeMemory(r memory.Record) {
	if n.memStore == nil {
		return
	}
	if err := n.memStore.Append(r); err != nil {
		log.Printf("neuron %s: memory write failed: %v", n.id, err)
	}
}

// assemblePrompt implements §4.3 step 3: base prompt plus sender
// metadata, tool grammar, and a memory-context block.
func (n *Neuron) assemblePrompt(sig signal.Signal) string {
	var b strings.Builder
	b.WriteString(n.adjuster.Render())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "From: %s (layer %s), strength %.2f\n", sig.SenderID, sig.SenderLayer, activationStrength(sig))
	b.WriteString("Content: ")
	b.WriteString(activationContent(sig))
	b.WriteString("\n\n")

	if n.toolReg != nil {
		b.WriteString(n.toolReg.Grammar())
		b.WriteString("\n")
	}

	if n.memStore != nil {
		b.WriteString(n.memoryContext(sig))
	}
	return b.String()
}

func (n *Neuron) memoryContext(sig signal.Signal) string {
	var b strings.Builder
	tasks := n.memStore.RecentTasks(n.id, 3)
	if len(tasks) > 0 {
		b.WriteString("Recent tasks:\n")
		for _, t := range tasks {
			fmt.Fprintf(&b, "- %s\n", t.Content)
		}
	}
	learnings := n.memStore.RelevantLearnings(n.id, activationContent(sig), 3)
	if len(learnings) > 0 {
		b.WriteString("Relevant learnings:\n")
		for _, l := range learnings {
			fmt.Fprintf(&b, "- %s\n", l.Content)
		}
	}
	errs := n.memStore.ErrorPatterns(n.id)
	if len(errs) > 0 {
		b.WriteString("Known error patterns:\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- %s\n", e.Content)
		}
	}
	return b.String()
}

func activationStrength(sig signal.Signal) float64 {
	if sig.Activation == nil {
		return 0
	}
	return sig.Activation.Strength
}

func activationContent(sig signal.Signal) string {
	if sig.Activation == nil {
		return ""
	}
	return sig.Activation.Content
}

// toolLoop implements §4.3 step 5: at most maxToolIterations calls to the
// LM, scanning each response for a TOOL directive.
func (n *Neuron) toolLoop(ctx context.Context, prompt string) (transcript string, toolUsed bool, err error) {
	var b strings.Builder

	for i := 0; i < n.maxToolIterations; i++ {
		callCtx, cancel := context.WithTimeout(ctx, n.lmTimeout)
		resp, callErr := n.lmClient.Send(callCtx, prompt)
		cancel()

		if callCtx.Err() != nil {
			return "", toolUsed, coreerr.New(coreerr.KindTimeout, "lm call exceeded deadline")
		}
		if callErr != nil {
			return "", toolUsed, coreerr.Wrap(coreerr.KindLmError, "lm call failed", callErr)
		}

		directiveLine, rest := firstLine(resp)
		name, args, isDirective, parseErr := tools.ParseDirective(directiveLine)

		if !isDirective {
			b.WriteString(resp)
			break
		}
		if parseErr != nil {
			b.WriteString("TOOL_ERROR: " + parseErr.Error() + "\n")
			break
		}
		if n.toolReg == nil || !n.toolReg.Has(name) {
			b.WriteString("TOOL_ERROR: tool " + name + " not permitted on this layer\n")
			break
		}

		toolUsed = true
		result, execErr := n.toolReg.Execute(ctx, name, args)
		if execErr != nil {
			b.WriteString("TOOL_ERROR: " + execErr.Error() + "\n")
			break
		}
		b.WriteString("TOOL_RESULT:\n")
		b.WriteString(formatResult(result))
		b.WriteString("\n")

		prompt = prompt + "\nTOOL_RESULT:\n" + formatResult(result) + "\nContinue processing the signal with this information.\n" + rest
	}
	return b.String(), toolUsed, nil
}

func firstLine(s string) (line, rest string) {
	idx := strings.IndexByte(s, '\n')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

// formatResult renders a tool result as indented JSON (§4.3 step 5b:
// "TOOL_RESULT:\n<pretty-json>\n"), giving a stable, deterministically
// ordered transcript instead of a map-iteration-order-dependent one.
func formatResult(result map[string]any) string {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

func (n *Neuron) touchLastSignal() {
	n.lastSignalMu.Lock()
	n.lastSignal = time.Now()
	n.lastSignalMu.Unlock()
}

// Health satisfies registry.Neuron.
func (n *Neuron) Health() registry.Health {
	n.lastSignalMu.RLock()
	last := n.lastSignal
	n.lastSignalMu.RUnlock()

	return registry.Health{
		State:            State(n.state.Load()).String(),
		SignalsProcessed: n.signalsProcessed.Load(),
		Errors:           n.errorCount.Load(),
		UptimeSeconds:    time.Since(n.startedAt).Seconds(),
		LastSignal:       last,
	}
}

// ForwardConnections reports the declared forward-connection ids, used by
// the router's response-parsing contract (§4.3 "Response-parsing
// contract").
func (n *Neuron) ForwardConnections() map[string]struct{} { return n.forwardConnections }

// BackwardConnections reports the declared backward-connection ids.
func (n *Neuron) BackwardConnections() map[string]struct{} { return n.backwardConnections }

// Shutdown satisfies registry.Neuron: cancels the worker loop and waits
// for the in-flight operation, if any, to observe cancellation.
func (n *Neuron) Shutdown(ctx context.Context) error {
	if n.cancel != nil {
		n.cancel()
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.state.Store(int32(Stopped))
	return nil
}
