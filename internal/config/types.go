// Package config loads and watches toybot's configuration file. JSON and
// YAML are both accepted; YAML is coerced to JSON so a single strict decoder
// (DisallowUnknownFields) validates either format.
package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Announce   AnnounceConfig   `json:"announce"`
	Translator TranslatorConfig `json:"translator"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`

	// PollTimeout is a Go duration string for the long-poll timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string                `json:"level"`
	Console  bool                  `json:"console"`
	File     LoggingFileConfig     `json:"file"`
	Telegram LoggingTelegramConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegramConfig relays warnings and errors into the owner chat.
type LoggingTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// AnnounceConfig drives the periodic announcement feature. Each entry becomes
// one routine on the announcement manager.
type AnnounceConfig struct {
	Enabled bool `json:"enabled"`

	// RatePerMinute caps outgoing announcement messages. Default 20.
	RatePerMinute int `json:"rate_per_minute,omitempty"`

	Announcements []Announcement `json:"announcements"`
}

// Announcement is one recurring message. Exactly one of Interval (a Go
// duration string) or At ("HH:MM" or "HH:MM:SS", daily) must be set.
type Announcement struct {
	Name        string `json:"name,omitempty"`
	Message     string `json:"message"`
	Interval    string `json:"interval,omitempty"`
	At          string `json:"at,omitempty"`
	InitialWait string `json:"initial_wait,omitempty"`
	WaitFirst   bool   `json:"wait_first,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
}

// TranslatorConfig drives the chat translation feature.
type TranslatorConfig struct {
	Enabled    bool   `json:"enabled"`
	Endpoint   string `json:"endpoint,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`

	// BatchMax bounds how many queued messages one iteration translates.
	BatchMax int `json:"batch_max,omitempty"`

	// PollInterval is how often the translation routine drains its queue.
	// Go duration string; default "1s".
	PollInterval string `json:"poll_interval,omitempty"`

	// Timeout bounds one translation HTTP call. Default "8s".
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the optional run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./toybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
	HistoryMax  int    `json:"history_max,omitempty"`  // kept rows; default 1000
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	for i, a := range c.Announce.Announcements {
		path := fmt.Sprintf("announce.announcements[%d]", i)
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("%s: message is required", path)
		}
		hasInterval := strings.TrimSpace(a.Interval) != ""
		hasAt := strings.TrimSpace(a.At) != ""
		if hasInterval == hasAt {
			return fmt.Errorf("%s: exactly one of interval or at is required", path)
		}
		if hasInterval {
			d, err := ParseDurationField(path+".interval", a.Interval)
			if err != nil {
				return err
			}
			if d <= 0 {
				return fmt.Errorf("%s.interval: must be positive", path)
			}
		}
		if hasAt {
			if _, err := ParseClockField(path+".at", a.At); err != nil {
				return err
			}
		}
		if _, err := ParseDurationField(path+".initial_wait", a.InitialWait); err != nil {
			return err
		}
		if a.Iterations < 0 {
			return fmt.Errorf("%s.iterations: must be >= 0", path)
		}
	}
	if c.Translator.Enabled {
		if strings.TrimSpace(c.Translator.Endpoint) == "" {
			return errors.New("translator.endpoint is required when translator is enabled")
		}
		if _, err := ParseDurationField("translator.poll_interval", c.Translator.PollInterval); err != nil {
			return err
		}
		if _, err := ParseDurationField("translator.timeout", c.Translator.Timeout); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
