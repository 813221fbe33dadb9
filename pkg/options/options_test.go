package options

import (
	"testing"
	"time"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"0.0.0.0:8080", false},
		{"localhost:9090", false},
		{":8080", false},
		{"8080", true},
		{"0.0.0.0:http", true},
		{"0.0.0.0:70000", true},
	}
	for _, tt := range tests {
		if err := ValidateAddress(tt.addr); (err != nil) != tt.wantErr {
			t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}

func TestRobotOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *RobotOptions)
		wantErr int
	}{
		{"defaults", func(o *RobotOptions) {}, 0},
		{"memory transport", func(o *RobotOptions) { o.Transport = TransportMemory }, 0},
		{"negative id", func(o *RobotOptions) { o.DeviceID = -1 }, 1},
		{"negative capacity", func(o *RobotOptions) { o.DustbinCapacity = -3 }, 1},
		{"wildcard prefix", func(o *RobotOptions) { o.TopicPrefix = "robots/#" }, 1},
		{"empty queue prefix", func(o *RobotOptions) { o.QueuePrefix = "" }, 1},
		{"unknown transport", func(o *RobotOptions) { o.Transport = "sqs" }, 1},
		{"zero poll window", func(o *RobotOptions) { o.PollWindow = 0 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewRobotOptions()
			tt.mutate(o)
			if errs := o.Validate(); len(errs) != tt.wantErr {
				t.Errorf("Validate() = %v, want %d errors", errs, tt.wantErr)
			}
		})
	}
}

func TestRobotOptionsTickDuration(t *testing.T) {
	o := NewRobotOptions()
	o.Tick = 10 * time.Millisecond
	if got := o.TickDuration(); got != 10*time.Millisecond {
		t.Errorf("TickDuration() = %s", got)
	}
	o.RealTime = true
	if got := o.TickDuration(); got != time.Second {
		t.Errorf("TickDuration() real time = %s", got)
	}
}

func TestMqttOptionsValidate(t *testing.T) {
	o := NewMqttOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("Validate() defaults = %v", errs)
	}

	o.Broker = "http://nope"
	o.TopicRoot = "vacuum/+"
	o.LookupTimeout = 0
	if errs := o.Validate(); len(errs) != 3 {
		t.Errorf("Validate() = %v, want 3 errors", errs)
	}

	cfg := NewMqttOptions().ToClientConfig()
	if cfg.KeepAlive != 60 || cfg.BrokerURL != "tcp://localhost:1883" {
		t.Errorf("ToClientConfig() = %+v", cfg)
	}
}

func TestHttpOptionsDisabledSkipsValidation(t *testing.T) {
	o := NewHttpOptions()
	o.Addr = "garbage"
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("Validate() = %v, want 1 error", errs)
	}
	o.Enabled = false
	if errs := o.Validate(); len(errs) != 0 {
		t.Errorf("Validate() disabled = %v", errs)
	}
}
