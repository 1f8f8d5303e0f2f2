package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/synload/internal/config"
)

// addTestFlags registers the flags that describe a load test. They are
// shared by run and validate.
func addTestFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Load test configuration file (YAML or JSON)")
	fs.StringP("url", "u", "", "Target URL (overrides config)")
	fs.StringP("stages", "s", "", `Stages as duration:target pairs, e.g. "1m:100,2m:200,30s:0" (overrides config)`)
	fs.String("name", "", "Test name shown in the summary")
	fs.StringSliceP("header", "H", nil, `Request header "Key: Value" (repeatable; SYNLOAD_HEADER takes a comma- or newline-separated list)`)
	fs.Duration("timeout", 0, "Per-request timeout (0 = none)")
	fs.Duration("graceful-stop", config.DefaultGracefulStop, "How long in-flight requests may finish after the run ends")
	fs.Duration("tick", config.DefaultTickInterval, "How often the VU count is reconciled with the schedule")
	fs.Duration("pacing", 0, "Pause between iterations of a VU")
	fs.Bool("insecure", false, "Skip TLS certificate verification")
	fs.Int("max-idle-conns-per-host", config.DefaultMaxIdleConnsPerHost, "Idle connections kept per host")
}

// loadTestConfig builds the effective configuration: the config file if
// one is given, overridden by flags and SYNLOAD_* variables, with
// defaults applied. It does not validate.
func loadTestConfig(v *viper.Viper) (*config.TestConfig, error) {
	cfg := &config.TestConfig{}

	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v.IsSet("name") {
		cfg.Name = v.GetString("name")
	}
	if v.IsSet("url") {
		cfg.URL = v.GetString("url")
	}
	if v.IsSet("stages") {
		stages, err := config.ParseStages(v.GetString("stages"))
		if err != nil {
			return nil, err
		}
		cfg.Stages = stages
	}

	durations := []struct {
		key    string
		target *config.Duration
	}{
		{"timeout", &cfg.Settings.Timeout},
		{"graceful-stop", &cfg.Settings.GracefulStop},
		{"tick", &cfg.Settings.TickInterval},
		{"pacing", &cfg.Settings.Pacing},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			continue
		}
		parsed, err := config.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("%w: --%s: %w", config.ErrConfiguration, d.key, err)
		}
		*d.target = config.Duration(parsed)
	}

	if v.IsSet("insecure") {
		cfg.Settings.InsecureSkipVerify = v.GetBool("insecure")
	}
	if v.IsSet("max-idle-conns-per-host") {
		cfg.Settings.MaxIdleConnsPerHost = v.GetInt("max-idle-conns-per-host")
	}

	if v.IsSet("header") {
		headers, err := headerValues(v)
		if err != nil {
			return nil, err
		}
		if cfg.Settings.Headers == nil {
			cfg.Settings.Headers = make(map[string]string, len(headers))
		}
		for _, h := range headers {
			parts := strings.SplitN(h, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("%w: invalid header %q, expected \"Key: Value\"", config.ErrConfiguration, h)
			}
			cfg.Settings.Headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// headerValues returns the --header values. A flag yields one entry per
// occurrence; SYNLOAD_HEADER holds newline-separated entries, or
// comma-separated ones when it has no newline.
func headerValues(v *viper.Viper) ([]string, error) {
	switch raw := v.Get("header").(type) {
	case nil:
		return nil, nil
	case []string:
		return raw, nil
	case string:
		sep := ","
		if strings.Contains(raw, "\n") {
			sep = "\n"
		}
		var headers []string
		for _, h := range strings.Split(raw, sep) {
			if h = strings.TrimSpace(h); h != "" {
				headers = append(headers, h)
			}
		}
		return headers, nil
	default:
		return nil, fmt.Errorf("%w: unsupported header value %v", config.ErrConfiguration, raw)
	}
}

// describeStages renders one line per stage for validate and verbose runs.
func describeStages(cfg *config.TestConfig) []string {
	lines := make([]string, 0, len(cfg.Stages))
	prev := 0
	var at time.Duration
	for i, stage := range cfg.ScheduleStages() {
		name := stage.Name
		if name == "" {
			name = fmt.Sprintf("stage-%d", i+1)
		}
		at += stage.Duration
		lines = append(lines, fmt.Sprintf("  %-12s %4d -> %-4d VUs over %-8s (ends at %s)",
			name, prev, stage.Target, stage.Duration, at))
		prev = stage.Target
	}
	return lines
}
