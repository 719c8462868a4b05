package config

import "time"

// ConversationConfig bounds the blocking request/reply pattern (spec.md §4.6, §5).
type ConversationConfig struct {
	// DefaultTimeout is handed to conversation.New. SendAndWait does not fall
	// back to it: a zero timeout is rejected there, and the hosts in cmd/
	// do not substitute it for a missing timeout either.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxTimeout is the hard ceiling a caller's timeout is validated against;
	// spec.md requires timeout in (0, 300]s.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// FastPathDeadline bounds the synchronous handler probe before falling
	// back to a detached invocation plus wait.
	FastPathDeadline time.Duration `yaml:"fast_path_deadline"`
}

// DefaultConversationConfig returns the built-in conversation defaults.
func DefaultConversationConfig() *ConversationConfig {
	return &ConversationConfig{
		DefaultTimeout:   30 * time.Second,
		MaxTimeout:       300 * time.Second,
		FastPathDeadline: 100 * time.Millisecond,
	}
}

// HandlerConfig bounds handler dispatch (spec.md §4.2).
type HandlerConfig struct {
	// InvokeSyncDeadline bounds invoke_sync calls.
	InvokeSyncDeadline time.Duration `yaml:"invoke_sync_deadline"`

	// DetachedDeadline bounds invoke_detached calls.
	DetachedDeadline time.Duration `yaml:"detached_deadline"`
}

// DefaultHandlerConfig returns the built-in handler defaults.
func DefaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		InvokeSyncDeadline: 30 * time.Second,
		DetachedDeadline:   30 * time.Second,
	}
}

// MeetingConfig bounds meeting creation and turn handling (spec.md §4.7, §4.8).
type MeetingConfig struct {
	// DefaultTurnDuration is used when create_meeting is called without one.
	DefaultTurnDuration time.Duration `yaml:"default_turn_duration"`

	// MaxTurnDuration validates create_meeting's turn_duration against
	// spec.md's (0, 3600]s bound.
	MaxTurnDuration time.Duration `yaml:"max_turn_duration"`

	// MaxParticipants validates create_meeting's participant count.
	MaxParticipants int `yaml:"max_participants"`
}

// DefaultMeetingConfig returns the built-in meeting defaults.
func DefaultMeetingConfig() *MeetingConfig {
	return &MeetingConfig{
		DefaultTurnDuration: 60 * time.Second,
		MaxTurnDuration:     3600 * time.Second,
		MaxParticipants:     50,
	}
}
