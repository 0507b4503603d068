package entity

import "errors"

var (
	// Agent errors
	ErrInvalidAgentID      = errors.New("invalid agent id")
	ErrInvalidAgentName    = errors.New("invalid agent name")
	ErrSkillAlreadyExists  = errors.New("skill already exists")
	ErrSkillNotFound       = errors.New("skill not found")

	// Message errors
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrInvalidConversationID = errors.New("invalid conversation id")

	// Skill errors
	ErrInvalidSkillID   = errors.New("invalid skill id")
	ErrInvalidSkillName = errors.New("invalid skill name")

	// Conversation errors
	ErrInvalidChannelID = errors.New("invalid channel id")

	// Reminder errors
	ErrReminderNotFound = errors.New("reminder not found")

	// Task errors
	ErrTaskNotFound    = errors.New("task not found")
	ErrNoSubtasks      = errors.New("decomposition produced no subtasks")
	ErrUnknownToolHint = errors.New("subtask references unknown tool")

	// Memory isolation errors
	ErrCrossChannelAccess = errors.New("cross-channel memory access denied")

	// Outbox / policy errors
	ErrToolCallBlocked    = errors.New("tool call blocked by policy gate")
	ErrToolCallRateLimited = errors.New("tool call exceeded per-run cap")
	ErrDuplicateSideEffect = errors.New("duplicate side-effect suppressed by outbox")
)
