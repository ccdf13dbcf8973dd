package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/use-agent/glance/models"
	"gopkg.in/yaml.v3"
)

// Profile is a named preset. Nil fields leave the current value untouched.
type Profile struct {
	Description string `yaml:"description"`

	Targets     []string `yaml:"targets"`
	TargetsFile *string  `yaml:"targets_file"`

	UserAgent     *string             `yaml:"user_agent"`
	UserAgentFile *string             `yaml:"user_agent_file"`
	Locale        *string             `yaml:"locale"`
	Timezone      *string             `yaml:"timezone"`
	Geolocation   *models.Geolocation `yaml:"geolocation"`
	Permissions   []string            `yaml:"permissions"`
	Viewport      *models.Viewport    `yaml:"viewport"`
	Headers       map[string]string   `yaml:"headers"`
	Stealth       *bool               `yaml:"stealth"`
	BlockAds      *bool               `yaml:"block_ads"`

	Engine         *string        `yaml:"engine"`
	Wait           *string        `yaml:"wait"`
	WaitSelector   *string        `yaml:"wait_selector"`
	Interaction    *string        `yaml:"interaction"`
	SearchSelector *string        `yaml:"search_selector"`
	SearchQuery    *string        `yaml:"search_query"`
	Screenshot     *bool          `yaml:"screenshot"`
	FullPage       *bool          `yaml:"full_page"`
	Imprint        *bool          `yaml:"imprint"`
	Video          *bool          `yaml:"video"`
	VideoWindow    *time.Duration `yaml:"video_window"`
	Extract        *string        `yaml:"extract"`
	TitleSelector  *string        `yaml:"title_selector"`
	Markdown       *bool          `yaml:"markdown"`

	OutputDir   *string `yaml:"output_dir"`
	SplitByKind *bool   `yaml:"split_by_kind"`
	Concurrency *int    `yaml:"concurrency"`
}

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads the named profiles from a YAML file.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeConfig, "failed to read profiles file "+path, err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, models.NewFetchError(models.ErrCodeConfig, "failed to parse profiles file "+path, err)
	}
	if pf.Profiles == nil {
		pf.Profiles = map[string]Profile{}
	}
	return pf.Profiles, nil
}

// ApplyProfile overlays the named profile from c.ProfilesFile onto c.
func (c *Config) ApplyProfile(name string) error {
	profiles, err := LoadProfiles(c.ProfilesFile)
	if err != nil {
		return err
	}
	p, ok := profiles[name]
	if !ok {
		names := make([]string, 0, len(profiles))
		for n := range profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return models.NewFetchError(models.ErrCodeConfig,
			"unknown profile "+name+" (available: "+strings.Join(names, ", ")+")", nil)
	}
	p.Apply(c)
	c.Profile = name
	return nil
}

// Apply overlays the profile's set fields onto cfg.
func (p Profile) Apply(cfg *Config) {
	if len(p.Targets) > 0 {
		cfg.Targets.List = p.Targets
	}
	setString(&cfg.Targets.File, p.TargetsFile)

	s := &cfg.Session
	setString(&s.UserAgent, p.UserAgent)
	setString(&s.UserAgentFile, p.UserAgentFile)
	setString(&s.Locale, p.Locale)
	setString(&s.Timezone, p.Timezone)
	if p.Geolocation != nil {
		g := *p.Geolocation
		if g.Accuracy == 0 {
			g.Accuracy = 100
		}
		s.Geolocation = &g
	}
	if len(p.Permissions) > 0 {
		s.Permissions = p.Permissions
	}
	if p.Viewport != nil {
		s.Viewport = *p.Viewport
	}
	if len(p.Headers) > 0 {
		s.Headers = p.Headers
	}
	setBool(&s.Stealth, p.Stealth)
	setBool(&s.BlockAds, p.BlockAds)

	setString(&cfg.Browser.Engine, p.Engine)

	c := &cfg.Capture
	setString(&c.Wait, p.Wait)
	setString(&c.WaitSelector, p.WaitSelector)
	setString(&c.Interaction, p.Interaction)
	setString(&c.SearchSelector, p.SearchSelector)
	setString(&c.SearchQuery, p.SearchQuery)
	setBool(&c.Screenshot, p.Screenshot)
	setBool(&c.FullPage, p.FullPage)
	setBool(&c.Imprint, p.Imprint)
	setBool(&c.Video, p.Video)
	if p.VideoWindow != nil {
		c.VideoWindow = *p.VideoWindow
	}
	setString(&c.Extract, p.Extract)
	setString(&c.TitleSelector, p.TitleSelector)
	setBool(&c.Markdown, p.Markdown)

	setString(&cfg.Output.Dir, p.OutputDir)
	setBool(&cfg.Output.SplitByKind, p.SplitByKind)
	if p.Concurrency != nil {
		cfg.Run.Concurrency = *p.Concurrency
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
