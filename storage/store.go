package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("job or tube not found")
	ErrTimedOut     = errors.New("timed out waiting for a job")
	ErrDeadlineSoon = errors.New("a reserved job is about to exceed its ttr")
	ErrJobTooBig    = errors.New("job body is too big")
	ErrClosed       = errors.New("store is closed")
)

const DefaultTube = "default"

type JobState string

const (
	Ready    JobState = "ready"
	Delayed  JobState = "delayed"
	Reserved JobState = "reserved"
	Buried   JobState = "buried"
)

// Job is a snapshot of a job, modifying it does not change the store.
type Job struct {
	ID       uint64
	Tube     string
	Priority uint32
	Delay    time.Duration
	TTR      time.Duration
	Body     []byte

	State   JobState
	Created time.Time

	// ReadyAt is when a delayed job becomes ready.
	ReadyAt time.Time

	// Deadline is when a reserved job is given back to the ready queue.
	Deadline time.Time

	// Owner is the connection holding the reservation.
	Owner string

	Reserves int
	Timeouts int
	Releases int
	Buries   int
	Kicks    int
}

// Store keeps the jobs of a work queue server. Methods that act on a
// reservation take the owner, the id of the connection that made it.
type Store interface {
	Put(tube string, pri uint32, delay, ttr time.Duration, body []byte) (uint64, error)

	// Reserve waits for a ready job on one of tubes. A negative timeout waits
	// until ctx is done.
	Reserve(ctx context.Context, owner string, tubes []string, timeout time.Duration) (Job, error)
	ReserveJob(owner string, id uint64) (Job, error)

	Delete(owner string, id uint64) error
	Release(owner string, id uint64, pri uint32, delay time.Duration) error
	Bury(owner string, id uint64, pri uint32) error
	Touch(owner string, id uint64) error

	Peek(id uint64) (Job, error)
	PeekState(tube string, state JobState) (Job, error)

	Kick(tube string, bound int) (int, error)
	KickJob(id uint64) error
	PauseTube(tube string, delay time.Duration) error

	// AcquireTube and ReleaseTube count the connections using or watching a
	// tube. Empty tubes nobody refers to are forgotten.
	AcquireTube(tube string)
	ReleaseTube(tube string)

	// ReleaseAll gives back every job reserved by owner.
	ReleaseAll(owner string) int

	Tubes() []string
	StatsJob(id uint64) (map[string]interface{}, error)
	StatsTube(tube string) (map[string]interface{}, error)
	Stats() map[string]interface{}

	Close() error
}
