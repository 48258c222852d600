package enforce

import (
	"github.com/hifumi-dev/hifumi/enforce/actor"
	"github.com/hifumi-dev/hifumi/enforce/gate"
	"github.com/hifumi-dev/hifumi/enforce/moderation"
	"github.com/hifumi-dev/hifumi/enforce/resolver"
	"github.com/hifumi-dev/hifumi/enforce/schedule"
	"github.com/hifumi-dev/hifumi/enforce/throttle"
)

type Actor = actor.Actor
type Directory = actor.Directory

type Resolver = resolver.Resolver
type ResolveOptions = resolver.Options

type Gate = gate.Gate
type Verdict = gate.Verdict
type Capability = throttle.Capability

type PendingAction = schedule.PendingAction
type Scheduler = schedule.Scheduler
type Executor = schedule.Executor

type Service = moderation.Service
type MuteRequest = moderation.MuteRequest
type Suppressor = moderation.Suppressor

var (
	CapabilityChat       = throttle.CapabilityChat
	CapabilityModeration = moderation.CapabilityModeration

	ErrNotFound   = resolver.ErrNotFound
	ErrCancelled  = resolver.ErrCancelled
	ErrAmbiguous  = resolver.ErrAmbiguous
	ErrSuppressed = moderation.ErrSuppressed
	// Scheduling succeeded in memory only.
	ErrPersistence = schedule.ErrPersistence
)
