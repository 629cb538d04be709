package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/buildlight/internal/domain"
	"gopkg.in/yaml.v3"
)

// Outputs is the optional per-project pin assignment. Unset pins fall back
// to domain.DefaultOutputs; a negative buzzer disables it.
type Outputs struct {
	Red    *int `yaml:"red,omitempty" json:"red,omitempty"`
	Green  *int `yaml:"green,omitempty" json:"green,omitempty"`
	Yellow *int `yaml:"yellow,omitempty" json:"yellow,omitempty"`
	Buzzer *int `yaml:"buzzer,omitempty" json:"buzzer,omitempty"`
}

type Project struct {
	ProjectID string   `yaml:"project_id" json:"project_id"`
	Ref       string   `yaml:"ref" json:"ref"`
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Name      string   `yaml:"name,omitempty" json:"name,omitempty"`
	Outputs   *Outputs `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

type Config struct {
	GitLab struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"gitlab"`

	Retry struct {
		Attempts int           `yaml:"attempts"`
		Delay    time.Duration `yaml:"delay"`
	} `yaml:"retry"`

	Poll struct {
		Interval  time.Duration `yaml:"interval"`
		Mode      string        `yaml:"mode"`
		Projects  []Project     `yaml:"projects"`
		PauseFile string        `yaml:"pause_file"`
	} `yaml:"poll"`

	Display struct {
		OnlyRedGreen bool `yaml:"only_red_green"`
	} `yaml:"display"`

	Indicator struct {
		Driver string `yaml:"driver"`
		Port   string `yaml:"port"`
	} `yaml:"indicator"`

	Notify struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notify"`

	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

const (
	defaultRef      = "develop"
	defaultInterval = 60 * time.Second
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 5
	defaultDelay    = 5 * time.Second
)

func Load(path string) (Config, error) {
	var c Config

	c.GitLab.BaseURL = "https://gitlab.com"
	c.GitLab.Timeout = defaultTimeout
	c.Retry.Attempts = defaultAttempts
	c.Retry.Delay = defaultDelay
	c.Poll.Interval = defaultInterval
	c.Poll.Mode = "sequential"
	c.Indicator.Driver = "firmata"
	c.Indicator.Port = "/dev/ttyACM0"
	c.Cache.Path = expandHome("~/.cache/buildlight_status.json")
	c.Log.Level = "info"

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, err
		}
	}

	if v := os.Getenv("GITLAB_BASE_URL"); v != "" {
		c.GitLab.BaseURL = v
	}

	if v := os.Getenv("GITLAB_API_PRIVATE_TOKEN"); v != "" {
		c.GitLab.Token = v
	}

	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitLab.Token = v
	}

	if v := os.Getenv("GITLAB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitLab.Timeout = d
		}
	}

	if v := os.Getenv("INTERVAL"); v != "" {
		if d, err := ParseInterval(v); err == nil {
			c.Poll.Interval = d
		}
	}

	if v := os.Getenv("POLL_MODE"); v != "" {
		c.Poll.Mode = v
	}

	if v := os.Getenv("ONLY_RED_GREEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Display.OnlyRedGreen = b
		}
	}

	if v := os.Getenv("INDICATOR_DRIVER"); v != "" {
		c.Indicator.Driver = v
	}

	if v := os.Getenv("INDICATOR_PORT"); v != "" {
		c.Indicator.Port = v
	}

	if v := os.Getenv("CACHE_PATH"); v != "" {
		c.Cache.Path = expandHome(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}

	if s := os.Getenv("GITLAB_PROJECTS"); s != "" {
		var ps []Project
		for _, item := range strings.Split(s, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			// project ids may contain ':' only in the ref part
			i := strings.LastIndex(item, ":")
			if i <= 0 || i == len(item)-1 {
				continue
			}
			ps = append(ps, Project{ProjectID: item[:i], Ref: item[i+1:], Enabled: true})
		}
		if len(ps) > 0 {
			c.Poll.Projects = ps
		}
	} else if v := os.Getenv("GITLAB_PROJECT_ID"); v != "" {
		ref := getenv("GITLAB_REF", defaultRef)
		c.Poll.Projects = []Project{{ProjectID: v, Ref: ref, Enabled: true}}
	}

	c.Cache.Path = expandHome(c.Cache.Path)
	c.Log.File = expandHome(c.Log.File)
	if c.GitLab.BaseURL == "" {
		c.GitLab.BaseURL = "https://gitlab.com"
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = defaultInterval
	}

	if c.GitLab.Timeout <= 0 {
		c.GitLab.Timeout = defaultTimeout
	}

	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = defaultAttempts
	}

	if c.Retry.Delay < 0 {
		c.Retry.Delay = defaultDelay
	}

	for i := range c.Poll.Projects {
		if c.Poll.Projects[i].Ref == "" {
			c.Poll.Projects[i].Ref = defaultRef
		}
	}

	if c.GitLab.Token == "" {
		return c, errors.New("GITLAB_TOKEN is required")
	}

	if len(c.Poll.Projects) == 0 {
		return c, errors.New("no projects configured (YAML or ENV)")
	}

	if c.Poll.PauseFile == "" {
		c.Poll.PauseFile = expandHome("~/.cache/buildlight_paused")
	}
	c.Poll.PauseFile = expandHome(c.Poll.PauseFile)

	if _, err := c.Enabled(); err != nil {
		return c, err
	}

	return c, nil
}

// Enabled resolves the enabled projects in config order and checks that no
// two of them share a status LED. Buzzers may be shared between projects
// but never sit on an LED pin.
func (c Config) Enabled() ([]domain.Project, error) {
	var out []domain.Project
	leds := map[domain.OutputID]string{}
	buzzers := map[domain.OutputID]string{}

	for _, p := range c.Poll.Projects {
		if !p.Enabled {
			continue
		}
		if p.ProjectID == "" {
			return nil, errors.New("project_id is required")
		}

		dp := domain.Project{
			Name:    p.Name,
			Ref:     domain.ProjectRef{ProjectID: p.ProjectID, Ref: p.Ref},
			Outputs: p.Outputs.Resolve(),
		}
		for _, id := range dp.Outputs.Colors() {
			if id == domain.NoOutput {
				continue
			}
			if prev, ok := leds[id]; ok {
				return nil, fmt.Errorf("output %d of %s is already used by %s", id, dp.Label(), prev)
			}
			if prev, ok := buzzers[id]; ok {
				return nil, fmt.Errorf("output %d of %s is the buzzer of %s", id, dp.Label(), prev)
			}
			leds[id] = dp.Label()
		}
		if bz := dp.Outputs.Buzzer; bz != domain.NoOutput {
			if prev, ok := leds[bz]; ok {
				return nil, fmt.Errorf("buzzer %d of %s is an LED of %s", bz, dp.Label(), prev)
			}
			buzzers[bz] = dp.Label()
		}
		out = append(out, dp)
	}

	return out, nil
}

// Resolve fills unset pins from domain.DefaultOutputs.
func (o *Outputs) Resolve() domain.Outputs {
	out := domain.DefaultOutputs
	if o == nil {
		return out
	}
	pick := func(v *int, def domain.OutputID) domain.OutputID {
		if v == nil {
			return def
		}
		if *v < 0 {
			return domain.NoOutput
		}
		return domain.OutputID(*v)
	}
	out.Red = pick(o.Red, out.Red)
	out.Green = pick(o.Green, out.Green)
	out.Yellow = pick(o.Yellow, out.Yellow)
	out.Buzzer = pick(o.Buzzer, out.Buzzer)
	return out
}

// ParseInterval accepts a Go duration or a plain number of seconds.
func ParseInterval(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, nil
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
