package mysql

import outbox "github.com/velmie/mutation-outbox"

const (
	defaultPreferencesTable = "user_notification_preferences"
	defaultProfileTable     = "user_profiles"
)

// Config defines the tables and time source of a Writer.
type Config struct {
	PreferencesTable string
	ProfileTable     string
	Clock            outbox.Clock
}

func (c Config) withDefaults() Config {
	if c.PreferencesTable == "" {
		c.PreferencesTable = defaultPreferencesTable
	}
	if c.ProfileTable == "" {
		c.ProfileTable = defaultProfileTable
	}
	if c.Clock == nil {
		c.Clock = outbox.SystemClock{}
	}

	return c
}

// Option configures the Writer.
type Option func(*Config)

// WithPreferencesTable sets the notification preferences table name.
func WithPreferencesTable(name string) Option {
	return func(c *Config) {
		c.PreferencesTable = name
	}
}

// WithProfileTable sets the profile table name.
func WithProfileTable(name string) Option {
	return func(c *Config) {
		c.ProfileTable = name
	}
}

// WithClock sets the time source of updated_at.
func WithClock(clock outbox.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
