package protocol

import "fmt"

// Entry describes how the server answers one verb.
type Entry struct {
	// Success is the only status that produces a parsed value.
	Success Status

	// Absent statuses are recognised failures that mean "nothing there",
	// they resolve to an Outcome with Found == false instead of an error.
	Absent []Status

	// Warnings are raised as ErrDeadlineSoon.
	Warnings []Status

	// Failures are raised as *CommandError.
	Failures []Status

	Parse Parser
}

// Recognises reports whether status is a known answer to the verb.
func (e Entry) Recognises(status Status) bool {
	return status == e.Success ||
		containsStatus(e.Absent, status) ||
		containsStatus(e.Warnings, status) ||
		containsStatus(e.Failures, status)
}

func containsStatus(statuses []Status, status Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Several verbs answer with the same statuses, those share an entry.
var (
	reserveEntry = Entry{
		Success:  StatusReserved,
		Warnings: []Status{StatusDeadlineSoon},
		Failures: []Status{StatusTimedOut},
		Parse:    ParseJob,
	}

	peekEntry = Entry{
		Success: StatusFound,
		Absent:  []Status{StatusNotFound},
		Parse:   ParseJob,
	}

	statsEntry = Entry{
		Success:  StatusOK,
		Failures: []Status{StatusNotFound},
		Parse:    ParseStats,
	}

	listEntry = Entry{
		Success: StatusOK,
		Parse:   ParseList,
	}

	usingEntry = Entry{
		Success: StatusUsing,
		Parse:   ParseString,
	}

	notFoundEntry = func(success Status) Entry {
		return Entry{
			Success:  success,
			Failures: []Status{StatusNotFound},
			Parse:    ParseNone,
		}
	}
)

var table = [numVerbs]Entry{
	Put: {
		Success:  StatusInserted,
		Failures: []Status{StatusBuried, StatusExpectedCRLF, StatusJobTooBig, StatusDraining},
		Parse:    ParseID,
	},
	Use:                usingEntry,
	Reserve:            reserveEntry,
	ReserveWithTimeout: reserveEntry,
	ReserveJob: {
		Success:  StatusReserved,
		Failures: []Status{StatusNotFound},
		Parse:    ParseJob,
	},
	Delete: notFoundEntry(StatusDeleted),
	Release: {
		Success:  StatusReleased,
		Failures: []Status{StatusBuried, StatusNotFound},
		Parse:    ParseNone,
	},
	Bury:  notFoundEntry(StatusBuried),
	Touch: notFoundEntry(StatusTouched),
	Watch: {
		Success: StatusWatching,
		Parse:   ParseCount,
	},
	Ignore: {
		Success:  StatusWatching,
		Failures: []Status{StatusNotIgnored},
		Parse:    ParseCount,
	},
	Peek:        peekEntry,
	PeekReady:   peekEntry,
	PeekDelayed: peekEntry,
	PeekBuried:  peekEntry,
	Kick: {
		Success: StatusKicked,
		Parse:   ParseCount,
	},
	KickJob:   notFoundEntry(StatusKicked),
	StatsJob:  statsEntry,
	StatsTube: statsEntry,
	Stats: {
		Success: StatusOK,
		Parse:   ParseStats,
	},
	ListTubes:        listEntry,
	ListTubeUsed:     usingEntry,
	ListTubesWatched: listEntry,
	PauseTube:        notFoundEntry(StatusPaused),
}

// Lookup returns the table entry for v.
func Lookup(v Verb) (Entry, error) {
	if !v.Valid() {
		return Entry{}, fmt.Errorf("%s: %w", v, ErrInvalidCommand)
	}
	return table[v], nil
}
