package env

import (
	"time"

	"github.com/crn-cloud/crn/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for crn.
func Process() error {
	if err := envconfig.Process("crn", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used by crn.
type Environment struct {
	LogLevel       string        `default:"info" split_words:"true"`
	Port           int           `default:"8080"`
	DatabaseType   string        `default:"sqlite" split_words:"true"`
	DatabaseDSN    string        `default:"crn.db" split_words:"true"`
	DatasetRoot    string        `default:"/var/lib/crn/datasets" split_words:"true"`
	ObjectRoot     string        `default:"/var/lib/crn/objects" split_words:"true"`
	ResultsRoot    string        `default:"" split_words:"true"`
	DockerHost     string        `default:"" split_words:"true"`
	Region         string        `default:"local"`
	UploadDeadline time.Duration `default:"1h" split_words:"true"`
	SweepSchedule  string        `default:"@every 10m" split_words:"true"`
	WebhookURL     string        `default:"" split_words:"true"`
	WebhookTimeout time.Duration `default:"10s" split_words:"true"`
}
