package protocol

import "fmt"

// Verb is one of the commands a client can send to the server.
type Verb int

const (
	Put Verb = iota
	Use
	Reserve
	ReserveWithTimeout
	ReserveJob
	Delete
	Release
	Bury
	Touch
	Watch
	Ignore
	Peek
	PeekReady
	PeekDelayed
	PeekBuried
	Kick
	KickJob
	StatsJob
	StatsTube
	Stats
	ListTubes
	ListTubeUsed
	ListTubesWatched
	PauseTube

	numVerbs
)

var verbNames = [numVerbs]string{
	Put:                "put",
	Use:                "use",
	Reserve:            "reserve",
	ReserveWithTimeout: "reserve-with-timeout",
	ReserveJob:         "reserve-job",
	Delete:             "delete",
	Release:            "release",
	Bury:               "bury",
	Touch:              "touch",
	Watch:              "watch",
	Ignore:             "ignore",
	Peek:               "peek",
	PeekReady:          "peek-ready",
	PeekDelayed:        "peek-delayed",
	PeekBuried:         "peek-buried",
	Kick:               "kick",
	KickJob:            "kick-job",
	StatsJob:           "stats-job",
	StatsTube:          "stats-tube",
	Stats:              "stats",
	ListTubes:          "list-tubes",
	ListTubeUsed:       "list-tube-used",
	ListTubesWatched:   "list-tubes-watched",
	PauseTube:          "pause-tube",
}

var verbsByName = func() map[string]Verb {
	m := make(map[string]Verb, numVerbs)
	for v, name := range verbNames {
		m[name] = Verb(v)
	}
	return m
}()

func (v Verb) String() string {
	if !v.Valid() {
		return fmt.Sprintf("Verb(%d)", int(v))
	}
	return verbNames[v]
}

// Valid reports whether v is part of the command table.
func (v Verb) Valid() bool {
	return v >= 0 && v < numVerbs
}

// LookupVerb maps a wire name such as "peek-ready" to its Verb.
func LookupVerb(name string) (Verb, error) {
	v, ok := verbsByName[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidCommand)
	}
	return v, nil
}

// Verbs returns every verb in the command table.
func Verbs() []Verb {
	verbs := make([]Verb, numVerbs)
	for i := range verbs {
		verbs[i] = Verb(i)
	}
	return verbs
}

// Status is the first token of a response header line.
type Status string

const (
	StatusInserted      Status = "INSERTED"
	StatusBuried        Status = "BURIED"
	StatusExpectedCRLF  Status = "EXPECTED_CRLF"
	StatusJobTooBig     Status = "JOB_TOO_BIG"
	StatusDraining      Status = "DRAINING"
	StatusUsing         Status = "USING"
	StatusReserved      Status = "RESERVED"
	StatusDeadlineSoon  Status = "DEADLINE_SOON"
	StatusTimedOut      Status = "TIMED_OUT"
	StatusNotFound      Status = "NOT_FOUND"
	StatusDeleted       Status = "DELETED"
	StatusReleased      Status = "RELEASED"
	StatusTouched       Status = "TOUCHED"
	StatusWatching      Status = "WATCHING"
	StatusNotIgnored    Status = "NOT_IGNORED"
	StatusFound         Status = "FOUND"
	StatusKicked        Status = "KICKED"
	StatusOK            Status = "OK"
	StatusPaused        Status = "PAUSED"
	StatusOutOfMemory   Status = "OUT_OF_MEMORY"
	StatusInternalError Status = "INTERNAL_ERROR"
	StatusBadFormat     Status = "BAD_FORMAT"
	StatusUnknownCmd    Status = "UNKNOWN_COMMAND"
)

// HasBody reports whether a response with this status is followed by a body
// whose length is the last header field.
func (s Status) HasBody() bool {
	switch s {
	case StatusReserved, StatusFound, StatusOK:
		return true
	default:
		return false
	}
}
