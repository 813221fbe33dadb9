package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/vacuumsim/internal/pkg/metrics"
	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

const (
	// lowPower is the power floor that ends a cleaning cycle and requests charging.
	lowPower = 5.0
	maxPower = 100.0

	minDeclineRate, maxDeclineRate = 0.02, 1.0
	minChargeRate, maxChargeRate   = 0.02, 3.0

	minDeviceID, maxDeviceID = 100, 10000
	minInitialPower          = 65
	maxInitialPower          = 100

	generalTopicSuffix = "_General"
)

// ErrAlreadyRunning is returned by a second concurrent call to Run.
var ErrAlreadyRunning = errors.New("engine is already running")

// Config configures an Engine. Zero values of DustbinCapacity and
// StuckChance are meaningful; use NewConfig for defaults.
type Config struct {
	// Sink receives lifecycle events. Required.
	Sink core.EventSink

	// Source delivers remote commands. Nil disables command ingestion.
	Source core.CommandSource

	// DeviceID identifies the robot. Zero draws a random id in [100, 9999].
	DeviceID int

	// InitialPower is the starting power level. Zero draws one in [65, 100).
	InitialPower float64

	// Tick is the simulation step. Zero runs as fast as possible.
	Tick time.Duration

	// DustbinCapacity is the number of cleaning cycles before DUSTBIN_FULL.
	DustbinCapacity int

	// StuckChance is the inverse per-tick probability of getting stuck.
	// Zero or negative disables the trial.
	StuckChance int

	// Seed makes the random draws reproducible. Zero seeds from the runtime.
	Seed uint64

	// TopicPrefix names the broadcast topic and prefixes the event topics.
	TopicPrefix string

	// QueuePrefix prefixes the per-device command channel.
	QueuePrefix string

	// OutboxSize bounds the number of events waiting to be published.
	OutboxSize int

	// OpTimeout bounds each call to the sink or source made outside of
	// construction.
	OpTimeout time.Duration

	// OnEvent observers are invoked synchronously for every emitted event,
	// outside the emit lock, so they may call back into the Engine. Events
	// emitted by one goroutine reach observers in publish order; events
	// emitted concurrently by the loop and the command ingestor may not.
	OnEvent []func(core.LifecycleEvent)

	Logger logr.Logger
	Clock  clock.Clock
}

// NewConfig returns a Config with default tunables.
func NewConfig(sink core.EventSink) *Config {
	return &Config{
		Sink:            sink,
		DustbinCapacity: 2,
		StuckChance:     1000,
		TopicPrefix:     "VirtualVacuumRobot",
		QueuePrefix:     "VirtualVacuumBotQueue",
		OutboxSize:      4096,
		OpTimeout:       5 * time.Second,
	}
}

// Status is a point-in-time view of a robot.
type Status struct {
	DeviceID          int     `json:"id"`
	Power             float64 `json:"power"`
	RunCount          int     `json:"runCount"`
	Phase             string  `json:"phase"`
	CleaningRequested bool    `json:"cleaningRequested"`
	ChargingRequested bool    `json:"chargingRequested"`
	Running           bool    `json:"running"`
	ShutDown          bool    `json:"shutDown"`
	Listening         bool    `json:"listening"`
}

// Engine simulates one vacuum robot.
type Engine struct {
	id     int
	device string
	sink   core.EventSink
	src    core.CommandSource
	log    logr.Logger
	clock  clock.Clock

	tick         time.Duration
	opTimeout    time.Duration
	topicPrefix  string
	channelName  string
	channel      string
	subscription string

	tunablesMu      sync.RWMutex
	dustbinCapacity int
	stuckChance     int

	rngMu sync.Mutex
	rng   *rand.Rand

	state     *controlState
	registry  *Registry
	outbox    *outbox
	lifecycle *lifecycle
	ingestor  *ingestor
	observers []func(core.LifecycleEvent)

	// ctx lives until Shutdown and scopes the command listener.
	ctx    context.Context
	cancel context.CancelFunc

	emitMu     sync.Mutex
	terminated bool

	running  atomic.Bool
	done     chan struct{}
	stopping atomic.Bool
	tearing  atomic.Bool
}

// New provisions the robot's topics and, when a command source is
// configured, its command channel, then starts listening for commands.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Sink == nil {
		return nil, errors.New("engine: an event sink is required")
	}

	e := &Engine{
		sink:            cfg.Sink,
		src:             cfg.Source,
		log:             cfg.Logger,
		clock:           cfg.Clock,
		tick:            max(cfg.Tick, 0),
		opTimeout:       cfg.OpTimeout,
		topicPrefix:     cfg.TopicPrefix,
		dustbinCapacity: cfg.DustbinCapacity,
		stuckChance:     cfg.StuckChance,
		registry:        NewRegistry(),
		observers:       append([]func(core.LifecycleEvent){}, cfg.OnEvent...),
		done:            make(chan struct{}),
	}
	if e.log.GetSink() == nil {
		e.log = logr.Discard()
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.opTimeout <= 0 {
		e.opTimeout = 5 * time.Second
	}
	if e.topicPrefix == "" {
		e.topicPrefix = "VirtualVacuumRobot"
	}
	queuePrefix := cfg.QueuePrefix
	if queuePrefix == "" {
		queuePrefix = "VirtualVacuumBotQueue"
	}
	outboxSize := cfg.OutboxSize
	if outboxSize <= 0 {
		outboxSize = 4096
	}

	seed1, seed2 := cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15
	if cfg.Seed == 0 {
		seed1, seed2 = rand.Uint64(), rand.Uint64()
	}
	e.rng = rand.New(rand.NewPCG(seed1, seed2))

	e.id = cfg.DeviceID
	if e.id == 0 {
		e.id = minDeviceID + e.rng.IntN(maxDeviceID-minDeviceID)
	}
	e.device = strconv.Itoa(e.id)
	e.log = e.log.WithValues("device", e.id)

	power := cfg.InitialPower
	if power == 0 {
		power = float64(minInitialPower + e.rng.IntN(maxInitialPower-minInitialPower))
	}
	e.state = newControlState(min(max(power, 0), maxPower))
	metrics.PowerPercent.WithLabelValues(e.device).Set(e.state.snapshot().power)

	if err := e.registry.Provision(ctx, e.sink, e.TopicNames()...); err != nil {
		return nil, err
	}

	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.outbox = newOutbox(e.sink, e.log.WithName("outbox"), outboxSize, e.opTimeout)
	e.lifecycle = newLifecycle(e.id, e.log.WithName("lifecycle"))

	if e.src != nil {
		if err := e.listen(ctx, queuePrefix); err != nil {
			e.cancel()
			_ = e.outbox.Close(ctx)
			return nil, err
		}
	}

	e.log.Info("Robot constructed", "power", e.state.snapshot().power, "topics", e.registry.Names(), "channel", e.channelName)
	return e, nil
}

func (e *Engine) listen(ctx context.Context, queuePrefix string) error {
	e.channelName = queuePrefix + "-" + e.device

	channel, err := Ensure(ctx, "channel", e.channelName, e.src.FindChannel, e.src.CreateChannel)
	if err != nil {
		return err
	}
	e.channel = channel

	broadcast, _ := e.registry.Handle(e.topicPrefix)
	sub, err := e.src.Subscribe(ctx, channel, broadcast)
	if err != nil {
		return fmt.Errorf("subscribe channel %q to topic %q: %w", e.channelName, e.topicPrefix, err)
	}
	e.subscription = sub

	e.ingestor = newIngestor(e, e.log.WithName("ingestor"))
	go e.ingestor.run(e.ctx)

	if err := e.src.StartListening(e.ctx, channel, e.ingestor.enqueue); err != nil {
		e.ingestor.stop()
		return fmt.Errorf("listen on channel %q: %w", e.channelName, err)
	}
	return nil
}

// TopicNames returns the logical names of the robot's notification topics.
// The first one is the broadcast topic command channels subscribe to.
func (e *Engine) TopicNames() []string {
	p := e.topicPrefix
	return []string{
		p,
		p + "_" + string(core.EventDustbinFull),
		p + "_" + string(core.EventStuck),
		p + generalTopicSuffix,
	}
}

// topicFor routes an event kind to its topic name.
func (e *Engine) topicFor(kind core.EventKind) string {
	if kind.Fault() {
		return e.topicPrefix + "_" + string(kind)
	}
	return e.topicPrefix + generalTopicSuffix
}

// DeviceID returns the robot's identity.
func (e *Engine) DeviceID() int { return e.id }

// ChannelName returns the logical name of the command channel, or "" when
// no command source is attached.
func (e *Engine) ChannelName() string { return e.channelName }

// Power returns the current power level.
func (e *Engine) Power() float64 { return e.state.snapshot().power }

// RunCount returns the number of cleaning cycles since the dustbin was emptied.
func (e *Engine) RunCount() int { return e.state.snapshot().runCount }

// Done is closed once the robot has shut down.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Status returns a snapshot of the robot.
func (e *Engine) Status() Status {
	s := e.state.snapshot()
	return Status{
		DeviceID:          e.id,
		Power:             s.power,
		RunCount:          s.runCount,
		Phase:             e.lifecycle.current(),
		CleaningRequested: s.cleaning,
		ChargingRequested: s.charging,
		Running:           e.running.Load(),
		ShutDown:          e.isShutdown(),
		Listening:         e.ingestor != nil && !e.isShutdown(),
	}
}

// SetTunables changes the dustbin capacity and stuck chance of a live robot.
func (e *Engine) SetTunables(dustbinCapacity, stuckChance int) {
	e.tunablesMu.Lock()
	defer e.tunablesMu.Unlock()
	e.dustbinCapacity, e.stuckChance = dustbinCapacity, stuckChance
	e.log.Info("Tunables updated", "dustbinCapacity", dustbinCapacity, "stuckChance", stuckChance)
}

func (e *Engine) tunables() (dustbinCapacity, stuckChance int) {
	e.tunablesMu.RLock()
	defer e.tunablesMu.RUnlock()
	return e.dustbinCapacity, e.stuckChance
}

// RequestCleaning asks the loop to start a cleaning cycle.
func (e *Engine) RequestCleaning() { e.state.requestCleaning() }

// RequestCharging asks the loop to start a charging cycle.
func (e *Engine) RequestCharging() { e.state.requestCharging() }

// StopCleaning ends the current cleaning cycle within one tick.
func (e *Engine) StopCleaning() { e.state.cancelCleaning() }

// EmptyDustbin resets the cleaning cycle count.
func (e *Engine) EmptyDustbin() { e.state.resetRunCount() }

// Run emits READY and runs the simulation loop until Shutdown is called or
// ctx is done. On return all accepted events were handed to the sink.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	stop := context.AfterFunc(ctx, e.Shutdown)
	defer stop()

	e.emit(core.EventReady, core.FormatPower(e.Power()))

	for !e.isShutdown() {
		cleaned := false
		if e.state.snapshot().cleaning {
			e.RunOneCleaningCycle(ctx)
			cleaned = true
		}
		if e.state.snapshot().charging {
			e.RunOneChargingCycle(ctx)
			continue
		}
		if cleaned {
			e.emit(core.EventSleeping, "")
			continue
		}

		select {
		case <-e.state.wake:
		case <-e.done:
		}
	}

	if e.ingestor != nil {
		<-e.ingestor.done
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opTimeout)
	defer cancel()
	return e.Close(closeCtx)
}

// Close waits until every accepted event was handed to the sink. Events
// emitted afterwards are dropped.
func (e *Engine) Close(ctx context.Context) error {
	return e.outbox.Close(ctx)
}

func (e *Engine) isShutdown() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Shutdown emits SHUTDOWN, clears every request and stops the loop and the
// command listener. The command channel is deleted and the broadcast
// subscription removed on a best-effort basis. It is safe to call
// repeatedly and from any goroutine, including event observers.
// Shutdown does not drain the outbox: call Close, or let Run return, to
// flush pending events and stop the sender.
func (e *Engine) Shutdown() {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}

	e.emit(core.EventShutdown, core.FormatPower(e.Power()))
	e.state.clear()
	close(e.done)
	e.cancel()
	e.lifecycle.fire(context.Background(), transitionShutdown)

	if e.src == nil {
		return
	}

	e.ingestor.stop()
	e.src.StopListening()

	ctx, cancel := context.WithTimeout(context.Background(), e.opTimeout)
	defer cancel()
	if err := e.src.DeleteChannel(ctx, e.channel); err != nil {
		e.log.Error(err, "Failed to delete command channel", "channel", e.channelName)
	}
	if err := e.src.Unsubscribe(ctx, e.subscription); err != nil {
		e.log.V(1).Info("Unsubscribe failed", "subscription", e.subscription, "err", err.Error())
	}
}

// Teardown shuts the robot down and deletes everything it provisioned:
// every topic, its command channel and any channel named
// "<channel>-<suffix>". Failures are logged.
func (e *Engine) Teardown(ctx context.Context) {
	if !e.tearing.CompareAndSwap(false, true) {
		return
	}

	e.Shutdown()

	ctx = context.WithoutCancel(ctx)
	drainCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	if err := e.Close(drainCtx); err != nil {
		e.log.Error(err, "Outbox did not drain before teardown")
	}
	cancel()

	for _, name := range e.registry.Names() {
		handle, _ := e.registry.Handle(name)
		opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
		if err := e.sink.DeleteTopic(opCtx, handle); err != nil {
			e.log.Error(err, "Failed to delete topic", "topic", name)
		}
		cancel()
		e.registry.Remove(name)
	}

	if e.src != nil {
		opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
		if err := e.src.DeleteChannel(opCtx, e.channel); err != nil && !errors.Is(err, core.ErrNotFound) {
			e.log.Error(err, "Failed to delete command channel", "channel", e.channelName)
		}
		// The separator keeps device 123 from matching device 1234's channel.
		prefix := e.channelName + "-"
		if err := e.src.DeleteChannelsWithPrefix(opCtx, prefix); err != nil {
			e.log.Error(err, "Failed to delete command channels", "prefix", prefix)
		}
		cancel()
	}

	e.log.Info("Robot torn down")
}

// emit builds an event, queues it for publishing and notifies observers.
// Nothing is emitted after SHUTDOWN. Observers run after emitMu is released.
func (e *Engine) emit(kind core.EventKind, detail string) {
	ev := core.LifecycleEvent{
		DeviceID:  e.id,
		Detail:    detail,
		Kind:      kind,
		Timestamp: e.clock.Now().UTC(),
	}

	e.emitMu.Lock()
	if e.terminated {
		e.emitMu.Unlock()
		return
	}
	if kind == core.EventShutdown {
		e.terminated = true
	}

	payload, err := ev.Encode()
	if err != nil {
		e.log.Error(err, "Failed to encode event", "event", kind)
	} else {
		handle, _ := e.registry.Handle(e.topicFor(kind))
		e.outbox.enqueue(outboxItem{topic: handle, kind: kind, payload: payload})
	}
	e.emitMu.Unlock()

	e.log.V(1).Info("Event", "event", kind, "message", detail)
	for _, fn := range e.observers {
		fn(ev)
	}
}
