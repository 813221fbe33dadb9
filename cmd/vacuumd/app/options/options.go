package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent"
	"github.com/autopeer-io/vacuumsim/pkg/log"
	"github.com/autopeer-io/vacuumsim/pkg/options"
)

type VacuumdOptions struct {
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	RobotOptions *options.RobotOptions `json:"robot" mapstructure:"robot"`
	Log          *log.Options          `json:"log" mapstructure:"log"`
}

func NewVacuumdOptions() *VacuumdOptions {
	return &VacuumdOptions{
		MqttOptions:  options.NewMqttOptions(),
		HttpOptions:  options.NewHttpOptions(),
		RobotOptions: options.NewRobotOptions(),
		Log:          log.NewOptions(),
	}
}

func (o *VacuumdOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.RobotOptions.AddFlags(fss.FlagSet("robot"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *VacuumdOptions) Complete() error {
	return nil
}

func (o *VacuumdOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.RobotOptions.Validate()...)
	if o.RobotOptions.Transport == options.TransportMQTT {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *VacuumdOptions) Config() (*vacuumagent.Config, error) {
	return &vacuumagent.Config{
		MqttOptions:  o.MqttOptions,
		HttpOptions:  o.HttpOptions,
		RobotOptions: o.RobotOptions,
	}, nil
}
