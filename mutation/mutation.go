// Package mutation defines the mutation variants the outbox knows how to deliver and binds them to a
// remote Writer.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	outbox "github.com/velmie/mutation-outbox"
)

const (
	// TypeNotificationPreferences replaces the notification settings of a user.
	TypeNotificationPreferences outbox.MutationType = "user.notificationPreferences"
	// TypeProfile replaces the editable profile fields of a user.
	TypeProfile outbox.MutationType = "user.profile"
)

// Digest values accepted by NotificationPreferences.
const (
	DigestOff    = "off"
	DigestDaily  = "daily"
	DigestWeekly = "weekly"
)

const maxDisplayNameLen = 80

var (
	// ErrInvalidDigest is returned for an unknown digest frequency.
	ErrInvalidDigest = errors.New("mutation: digest must be off, daily or weekly")
	// ErrDisplayNameRequired is returned for a blank display name.
	ErrDisplayNameRequired = errors.New("mutation: display name is required")
	// ErrDisplayNameTooLong is returned when the display name exceeds 80 characters.
	ErrDisplayNameTooLong = errors.New("mutation: display name is too long")
)

// NotificationPreferences is the full notification settings document of one user.
type NotificationPreferences struct {
	Email  bool   `json:"email"`
	SMS    bool   `json:"sms"`
	Push   bool   `json:"push"`
	Digest string `json:"digest,omitempty"`
}

// MutationType implements outbox.Mutation.
func (NotificationPreferences) MutationType() outbox.MutationType {
	return TypeNotificationPreferences
}

// Validate checks the digest frequency. An empty digest means DigestOff.
func (p NotificationPreferences) Validate() error {
	switch p.Digest {
	case "", DigestOff, DigestDaily, DigestWeekly:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDigest, p.Digest)
	}
}

// ProfileUpdate holds the editable profile fields of one user.
type ProfileUpdate struct {
	DisplayName string `json:"displayName"`
	Timezone    string `json:"timezone,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

// MutationType implements outbox.Mutation.
func (ProfileUpdate) MutationType() outbox.MutationType {
	return TypeProfile
}

// Validate checks the display name.
func (p ProfileUpdate) Validate() error {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		return ErrDisplayNameRequired
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return ErrDisplayNameTooLong
	}

	return nil
}

// NotificationPreferencesKey is the dedupe key of the preferences document of actorUID.
func NotificationPreferencesKey(actorUID string) string {
	return string(TypeNotificationPreferences) + ":" + actorUID
}

// ProfileKey is the dedupe key of the profile of actorUID.
func ProfileKey(actorUID string) string {
	return string(TypeProfile) + ":" + actorUID
}

// Writer performs the remote writes. Every method must be idempotent: the outbox delivers at least once.
type Writer interface {
	WriteNotificationPreferences(ctx context.Context, actorUID string, prefs NotificationPreferences) error
	WriteProfile(ctx context.Context, actorUID string, profile ProfileUpdate) error
}

// Register binds every variant of this package to w.
func Register(r *outbox.Registry, w Writer) {
	if w == nil {
		panic("mutation: nil Writer")
	}

	outbox.Register(r, func(ctx context.Context, actorUID string, prefs NotificationPreferences) error {
		if err := prefs.Validate(); err != nil {
			return outbox.Permanent(err)
		}

		return w.WriteNotificationPreferences(ctx, actorUID, prefs)
	})
	outbox.Register(r, func(ctx context.Context, actorUID string, profile ProfileUpdate) error {
		if err := profile.Validate(); err != nil {
			return outbox.Permanent(err)
		}

		return w.WriteProfile(ctx, actorUID, profile)
	})
}

// Gateway is the direct-write-first surface of *outbox.Outbox.
type Gateway interface {
	Actor() string
	AttemptDirectWriteElseQueue(ctx context.Context, m outbox.Mutation, dedupeKey string) (outbox.WriteResult, error)
}

// UpdateNotificationPreferences writes prefs for the current actor, queueing on connectivity failure.
func UpdateNotificationPreferences(ctx context.Context, gw Gateway, prefs NotificationPreferences) (outbox.WriteResult, error) {
	if err := prefs.Validate(); err != nil {
		return outbox.WriteResult{}, err
	}

	return gw.AttemptDirectWriteElseQueue(ctx, prefs, NotificationPreferencesKey(gw.Actor()))
}

// UpdateProfile writes profile for the current actor, queueing on connectivity failure.
func UpdateProfile(ctx context.Context, gw Gateway, profile ProfileUpdate) (outbox.WriteResult, error) {
	if err := profile.Validate(); err != nil {
		return outbox.WriteResult{}, err
	}

	return gw.AttemptDirectWriteElseQueue(ctx, profile, ProfileKey(gw.Actor()))
}
