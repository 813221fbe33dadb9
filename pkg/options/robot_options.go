package options

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RobotOptions)(nil)

// Transports understood by RobotOptions.Transport.
const (
	TransportMQTT   = "mqtt"
	TransportMemory = "memory"
)

// RobotOptions configures the simulated device.
type RobotOptions struct {
	// DeviceID identifies the robot. Zero draws a random id in [100, 9999].
	DeviceID int `json:"device-id" mapstructure:"device-id"`

	DustbinCapacity int `json:"dustbin-capacity" mapstructure:"dustbin-capacity"`

	// StuckChance is the inverse per-tick probability of getting stuck.
	// Zero or negative disables the trial.
	StuckChance int `json:"stuck-chance" mapstructure:"stuck-chance"`

	// RealTime ticks once per second instead of running as fast as possible.
	RealTime bool `json:"real-time" mapstructure:"real-time"`

	// Tick overrides the tick duration when RealTime is off.
	Tick time.Duration `json:"tick" mapstructure:"tick"`

	// Seed makes runs reproducible. Zero seeds from the runtime.
	Seed uint64 `json:"seed" mapstructure:"seed"`

	TopicPrefix string `json:"topic-prefix" mapstructure:"topic-prefix"`
	QueuePrefix string `json:"queue-prefix" mapstructure:"queue-prefix"`

	Transport string `json:"transport" mapstructure:"transport"`

	// ListenForCommands provisions the per-device channel and starts the ingestor.
	ListenForCommands bool `json:"listen" mapstructure:"listen"`

	// PollWindow bounds a single command receive.
	PollWindow time.Duration `json:"poll-window" mapstructure:"poll-window"`

	// AutoStart requests a cleaning cycle as soon as the robot is ready.
	AutoStart bool `json:"auto-start" mapstructure:"auto-start"`

	// TeardownOnExit deletes provisioned topics and channels on shutdown.
	TeardownOnExit bool `json:"teardown-on-exit" mapstructure:"teardown-on-exit"`
}

// NewRobotOptions creates a RobotOptions object with default parameters.
func NewRobotOptions() *RobotOptions {
	return &RobotOptions{
		DustbinCapacity:   2,
		StuckChance:       1000,
		TopicPrefix:       "VirtualVacuumRobot",
		QueuePrefix:       "VirtualVacuumBotQueue",
		Transport:         TransportMQTT,
		ListenForCommands: true,
		PollWindow:        2 * time.Second,
	}
}

// TickDuration returns the effective simulation tick.
func (o *RobotOptions) TickDuration() time.Duration {
	if o.RealTime {
		return time.Second
	}
	return o.Tick
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *RobotOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.DeviceID < 0 {
		errs = append(errs, fmt.Errorf("robot.device-id must not be negative, got %d", o.DeviceID))
	}
	if o.DustbinCapacity < 0 {
		errs = append(errs, fmt.Errorf("robot.dustbin-capacity must not be negative, got %d", o.DustbinCapacity))
	}
	if o.Tick < 0 {
		errs = append(errs, errors.New("robot.tick must not be negative"))
	}
	if o.PollWindow <= 0 {
		errs = append(errs, errors.New("robot.poll-window must be positive"))
	}
	for flag, v := range map[string]string{"robot.topic-prefix": o.TopicPrefix, "robot.queue-prefix": o.QueuePrefix} {
		if v == "" || strings.ContainsAny(v, "/+#") {
			errs = append(errs, fmt.Errorf("%s must be non-empty and contain no '/', '+' or '#', got %q", flag, v))
		}
	}
	switch o.Transport {
	case TransportMQTT, TransportMemory:
	default:
		errs = append(errs, fmt.Errorf("robot.transport must be %q or %q, got %q", TransportMQTT, TransportMemory, o.Transport))
	}

	return errs
}

// AddFlags adds flags for RobotOptions to the specified FlagSet.
func (o *RobotOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.DeviceID, "robot.device-id", o.DeviceID, "Device id of the simulated robot (0 picks a random id).")
	fs.IntVar(&o.DustbinCapacity, "robot.dustbin-capacity", o.DustbinCapacity, "Cleaning cycles before the dustbin reports full.")
	fs.IntVar(&o.StuckChance, "robot.stuck-chance", o.StuckChance, "One in N chance per tick of getting stuck (0 disables).")
	fs.BoolVar(&o.RealTime, "robot.real-time", o.RealTime, "Tick once per second instead of simulating as fast as possible.")
	fs.DurationVar(&o.Tick, "robot.tick", o.Tick, "Tick duration when --robot.real-time is off.")
	fs.Uint64Var(&o.Seed, "robot.seed", o.Seed, "Random seed (0 seeds from the runtime).")
	fs.StringVar(&o.TopicPrefix, "robot.topic-prefix", o.TopicPrefix, "Prefix of the event topics; the bare prefix is the broadcast topic.")
	fs.StringVar(&o.QueuePrefix, "robot.queue-prefix", o.QueuePrefix, "Prefix of the per-device command channel.")
	fs.StringVar(&o.Transport, "robot.transport", o.Transport, "Event and command transport ('mqtt' or 'memory').")
	fs.BoolVar(&o.ListenForCommands, "robot.listen", o.ListenForCommands, "Listen for remote commands.")
	fs.DurationVar(&o.PollWindow, "robot.poll-window", o.PollWindow, "Maximum wait of one command receive.")
	fs.BoolVar(&o.AutoStart, "robot.auto-start", o.AutoStart, "Start cleaning as soon as the robot is ready.")
	fs.BoolVar(&o.TeardownOnExit, "robot.teardown-on-exit", o.TeardownOnExit, "Delete provisioned topics and channels on exit.")
}
