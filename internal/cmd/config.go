package cmd

import (
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"gopkg.in/yaml.v2"
)

// configuration represents the on-disk configuration of AcceptGuard.  The order
// of the fields should generally not be altered.
type configuration struct {
	// Connectors are the TCP connectors accepting the client connections.
	Connectors connectorConfigs `yaml:"connectors"`

	// AcceptRateLimit is the configuration of the accept-rate governor.
	AcceptRateLimit *acceptRateLimitConfig `yaml:"accept_rate_limit"`

	// AcceptLimit is the configuration of the accept-concurrency governor.
	AcceptLimit *acceptLimitConfig `yaml:"accept_limit"`

	// AdditionalMetricsInfo is extra information, which is exposed by metrics.
	AdditionalMetricsInfo additionalInfo `yaml:"additional_metrics_info"`
}

// type check
var _ validate.Interface = (*configuration)(nil)

// Validate implements the [validate.Interface] interface for *configuration.
func (c *configuration) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	// Keep this in the same order as the fields in the config.
	validators := container.KeyValues[string, validate.Interface]{{
		Key:   "connectors",
		Value: c.Connectors,
	}, {
		Key:   "accept_rate_limit",
		Value: c.AcceptRateLimit,
	}, {
		Key:   "accept_limit",
		Value: c.AcceptLimit,
	}, {
		Key:   "additional_metrics_info",
		Value: c.AdditionalMetricsInfo,
	}}

	var errs []error
	for _, kv := range validators {
		errs = validate.Append(errs, kv.Key, kv.Value)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	names := c.Connectors.names()
	errs = validateConnectorRefs(errs, "accept_rate_limit", c.AcceptRateLimit.Connectors, names)
	errs = validateConnectorRefs(errs, "accept_limit", c.AcceptLimit.Connectors, names)

	return errors.Join(errs...)
}

// validateConnectorRefs appends an error to errs for every name in refs that
// is not in names.  prefix is used in the error messages.
func validateConnectorRefs(
	errs []error,
	prefix string,
	refs []string,
	names *container.MapSet[string],
) (res []error) {
	res = errs
	for i, ref := range refs {
		if !names.Has(ref) {
			res = append(res, fmt.Errorf("%s: connectors: at index %d: no connector %q", prefix, i, ref))
		}
	}

	return res
}

// parseConfig reads the configuration.
func parseConfig(confPath string) (c *configuration, err error) {
	// #nosec G304 -- Trust the path to the configuration file that is given
	// from the environment.
	yamlFile, err := os.ReadFile(confPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	c = &configuration{}
	err = yaml.Unmarshal(yamlFile, c)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return c, nil
}
