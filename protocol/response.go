package protocol

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Frame is one complete server response.
type Frame struct {
	Status  Status
	Headers []string

	// Body is nil unless Status.HasBody().
	Body []byte
}

// Outcome is the result of a successfully dispatched response. Found is false
// when the server reported that the requested thing does not exist, e.g.
// NOT_FOUND for peek-ready on an empty tube.
type Outcome struct {
	Value interface{}
	Found bool
}

func found(v interface{}) Outcome {
	return Outcome{Value: v, Found: true}
}

// Job is a job id together with its body, returned by reserve and peek.
type Job struct {
	ID   uint64
	Body []byte
}

// StatsMap is the decoded YAML dictionary returned by stats, stats-tube and
// stats-job.
type StatsMap map[string]interface{}

// Parser turns the header fields and optional body of a success response
// into a value.
type Parser func(headers []string, body []byte) (interface{}, error)

// Dispatch resolves frame as the answer to verb.
func Dispatch(verb Verb, frame *Frame) (Outcome, error) {
	entry, err := Lookup(verb)
	if err != nil {
		return Outcome{}, err
	}

	switch {
	case frame.Status == entry.Success:
		v, err := entry.Parse(frame.Headers, frame.Body)
		if err != nil {
			return Outcome{}, fmt.Errorf("parsing %s response to %s: %w", frame.Status, verb, err)
		}
		return found(v), nil

	case containsStatus(entry.Absent, frame.Status):
		return Outcome{}, nil

	case containsStatus(entry.Warnings, frame.Status):
		return Outcome{}, fmt.Errorf("%s: %w", verb, ErrDeadlineSoon)

	case containsStatus(entry.Failures, frame.Status):
		return Outcome{}, &CommandError{Verb: verb, Status: frame.Status}

	default:
		return Outcome{}, &UnexpectedResponseError{Verb: verb, Status: frame.Status}
	}
}

func ParseNone(headers []string, body []byte) (interface{}, error) {
	return nil, nil
}

// ParseID reads the job id in the first header field.
func ParseID(headers []string, body []byte) (interface{}, error) {
	if len(headers) < 1 {
		return nil, fmt.Errorf("missing job id: %w", ErrMalformedHeader)
	}
	id, err := strconv.ParseUint(headers[0], 10, 64)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// ParseCount reads a non-negative count in the first header field.
func ParseCount(headers []string, body []byte) (interface{}, error) {
	if len(headers) < 1 {
		return nil, fmt.Errorf("missing count: %w", ErrMalformedHeader)
	}
	n, err := strconv.ParseUint(headers[0], 10, 32)
	if err != nil {
		return nil, err
	}
	return int(n), nil
}

func ParseString(headers []string, body []byte) (interface{}, error) {
	if len(headers) < 1 {
		return nil, fmt.Errorf("missing name: %w", ErrMalformedHeader)
	}
	return headers[0], nil
}

// ParseJob reads "<id> <bytes>" headers and the job body.
func ParseJob(headers []string, body []byte) (interface{}, error) {
	v, err := ParseID(headers, body)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return Job{ID: v.(uint64), Body: body}, nil
}

// ParseStats decodes a YAML dictionary body.
func ParseStats(headers []string, body []byte) (interface{}, error) {
	stats := StatsMap{}
	if err := yaml.Unmarshal(body, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// ParseList decodes a YAML list body.
func ParseList(headers []string, body []byte) (interface{}, error) {
	list := []string{}
	if err := yaml.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	return list, nil
}
