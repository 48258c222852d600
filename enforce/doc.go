// Moderation enforcement for a community chat bot.
//
// This package (`github.com/hifumi-dev/hifumi/enforce`) and its sub-packages turn a moderator's free-text command into an enforcement action. The target is resolved from an ID, mention, or partial name (asking the moderator to pick when several people match). Issuers and chat users are rate-limited per capability, with escalating suppression windows for repeat violators. Mutes are reversed automatically by a durable scheduler that survives restarts.
//
// Sub-packages hold the pieces: `resolver` and `confirm` for naming, `throttle`, `escalation` and `gate` for abuse control, `schedule` for timed reversals, and `moderation` for the pipeline tying them together. State lives behind small store interfaces (`statestore`, `flagstore`, `setstore`, `cachestore`) with in-memory and redis implementations.
//
// See `cmd/hifumi` for a daemon built on this package.
package enforce
