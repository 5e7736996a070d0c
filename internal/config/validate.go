package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"jobsched/internal/job"
	"jobsched/internal/storage"
	logx "jobsched/pkg/logx"
)

// Validate checks the whole config and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if lv := strings.TrimSpace(cfg.Logging.StderrSink.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.stderr_sink.min_level: unknown level %q", lv))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled"))
	}

	if _, err := LoadLocation(cfg.Scheduler.Timezone); err != nil {
		add(fmt.Errorf("scheduler.timezone: %w", err))
	}
	if cfg.Scheduler.HistorySize < 0 {
		add(errors.New("scheduler.history_size must be >= 0"))
	}

	if sc := cfg.Storage; sc != nil {
		switch d := strings.ToLower(strings.TrimSpace(sc.Driver)); {
		case storage.Disabled(d):
		case !slices.Contains(storage.Drivers(), d):
			add(fmt.Errorf("storage.driver: unknown driver %q (want one of %s)", sc.Driver, strings.Join(storage.Drivers(), ", ")))
		case strings.TrimSpace(sc.Path) == "":
			add(fmt.Errorf("storage.path is required when storage.driver=%s", sc.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		add(err)
		if sc.Retain < 0 {
			add(errors.New("storage.retain must be >= 0"))
		}
	}

	names := map[string]string{}
	claim := func(path, name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			add(fmt.Errorf("%s.name is required", path))
			return
		}
		if prev, ok := names[name]; ok {
			add(fmt.Errorf("%s.name: %q already used by %s", path, name, prev))
			return
		}
		names[name] = path
	}

	for i, jc := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		claim(path, jc.Name)
		add(validateTrigger(path, jc.Every, jc.At, jc.Cron, jc.Delay))
		if len(jc.Command) == 0 || strings.TrimSpace(jc.Command[0]) == "" {
			add(fmt.Errorf("%s.command is required", path))
		}
		_, err := ParseDurationField(path+".timeout", jc.Timeout)
		add(err)
	}

	for i, bc := range cfg.Batches {
		path := fmt.Sprintf("batches[%d]", i)
		claim(path, bc.Name)
		add(validateTrigger(path, bc.Every, bc.At, bc.Cron, ""))
		if len(bc.Commands) == 0 {
			add(fmt.Errorf("%s.commands is required", path))
		}
		for key, argv := range bc.Commands {
			if strings.TrimSpace(key) == "" {
				add(fmt.Errorf("%s.commands: empty key", path))
			}
			if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
				add(fmt.Errorf("%s.commands[%s] is empty", path, key))
			}
		}
		_, err := ParseDurationField(path+".timeout", bc.Timeout)
		add(err)
	}

	return errors.Join(errs...)
}

func validateTrigger(path, every, at, cronExpr, delay string) error {
	set := 0
	for _, v := range []string{every, cronExpr, delay} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one of every, cron or delay is required", path)
	}
	switch {
	case strings.TrimSpace(every) != "":
		iv, err := job.ParseInterval(every)
		if err != nil {
			return fmt.Errorf("%s.every: %w", path, err)
		}
		off, err := job.ParseOffset(at)
		if err != nil {
			return fmt.Errorf("%s.at: %w", path, err)
		}
		ivd, err := iv.Duration(time.UTC)
		if err != nil {
			return fmt.Errorf("%s.every: %w", path, err)
		}
		offd, err := off.Duration(time.UTC)
		if err != nil {
			return fmt.Errorf("%s.at: %w", path, err)
		}
		if offd >= ivd {
			return fmt.Errorf("%s.at: offset %s must be smaller than interval %s", path, off, iv)
		}
	case strings.TrimSpace(cronExpr) != "":
		if strings.TrimSpace(at) != "" {
			return fmt.Errorf("%s.at cannot be combined with cron", path)
		}
		if _, err := job.ParseCron(cronExpr); err != nil {
			return fmt.Errorf("%s.cron: %w", path, err)
		}
	default:
		if strings.TrimSpace(at) != "" {
			return fmt.Errorf("%s.at cannot be combined with delay", path)
		}
		if _, err := ParseDurationField(path+".delay", delay); err != nil {
			return err
		}
	}
	return nil
}

// LoadLocation resolves an IANA zone name. Empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
