package models

import "time"

// Geolocation is the emulated device position.
type Geolocation struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty" yaml:"accuracy"`
}

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// SessionOptions configure every browser session of a run.
type SessionOptions struct {
	UserAgent   string
	Locale      string
	Timezone    string
	Geolocation *Geolocation
	Permissions []string
	Viewport    Viewport
	Headers     map[string]string
	Stealth     bool
	BlockAds    bool

	// RecordVideo must be known when the session is created; some drivers
	// only record from context creation onwards.
	RecordVideo bool
}

// WaitStrategy selects how a navigation is considered settled.
type WaitStrategy string

const (
	WaitLoad        WaitStrategy = "load"
	WaitNetworkIdle WaitStrategy = "networkidle"
	WaitSelector    WaitStrategy = "selector"
)

// WaitOptions bound a single navigation.
type WaitOptions struct {
	Strategy WaitStrategy
	Selector string
	Timeout  time.Duration
}

// InteractionKind is the single optional interaction performed after load.
type InteractionKind string

const (
	InteractNone   InteractionKind = "none"
	InteractScroll InteractionKind = "scroll"
	InteractSearch InteractionKind = "search"
	InteractReload InteractionKind = "reload"
)

// Interaction describes the bounded interaction with a loaded page.
type Interaction struct {
	Kind     InteractionKind
	Selector string // search input
	Query    string
	Settle   time.Duration
}

// ExtractMode controls title extraction.
type ExtractMode string

const (
	ExtractAuto ExtractMode = "auto" // on for forge targets only
	ExtractOn   ExtractMode = "on"
	ExtractOff  ExtractMode = "off"
)

// CaptureOptions configure what a fetch task records for each page.
type CaptureOptions struct {
	Wait          WaitOptions
	Interaction   Interaction
	Screenshot    bool
	FullPage      bool
	Imprint       bool
	Video         bool
	VideoWindow   time.Duration
	Extract       ExtractMode
	TitleSelector string
	Markdown      bool
}

// ExtractFor reports whether titles are extracted for the given target.
func (c CaptureOptions) ExtractFor(t Target) bool {
	switch c.Extract {
	case ExtractOn:
		return true
	case ExtractOff:
		return false
	default:
		return t.Kind == TargetGitHub
	}
}
