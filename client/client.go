package client

import (
	"context"
	"time"

	"github.com/luma/bean/protocol"
)

// Executor is the only capability the typed commands need from a connection.
type Executor interface {
	Execute(verb protocol.Verb, args []interface{}, body []byte) (*Pending, error)
}

var _ Executor = (*Conn)(nil)

// Client offers one method per protocol verb on top of an Executor. Each
// method waits for its own response; use the Executor directly to pipeline
// several commands.
type Client struct {
	exec Executor
}

func NewClient(exec Executor) *Client {
	return &Client{exec: exec}
}

func (c *Client) call(ctx context.Context, verb protocol.Verb, args []interface{}, body []byte) (protocol.Outcome, error) {
	p, err := c.exec.Execute(verb, args, body)
	if err != nil {
		return protocol.Outcome{}, err
	}

	return p.Wait(ctx)
}

// Put inserts a job into the tube currently in use and returns its id. Delay
// and ttr are sent in whole seconds.
func (c *Client) Put(ctx context.Context, body []byte, pri uint32, delay, ttr time.Duration) (uint64, error) {
	if body == nil {
		body = []byte{}
	}

	outcome, err := c.call(ctx, protocol.Put, []interface{}{pri, seconds(delay), seconds(ttr), len(body)}, body)
	if err != nil {
		return 0, err
	}
	return outcome.Value.(uint64), nil
}

// Use selects the tube that Put inserts into.
func (c *Client) Use(ctx context.Context, tube string) (string, error) {
	return c.name(ctx, protocol.Use, tube)
}

// Reserve blocks until a job is available on one of the watched tubes.
func (c *Client) Reserve(ctx context.Context) (protocol.Job, error) {
	return c.job(ctx, protocol.Reserve)
}

// ReserveWithTimeout is Reserve with a server side timeout, after which it
// fails with TIMED_OUT. A zero timeout returns immediately.
func (c *Client) ReserveWithTimeout(ctx context.Context, timeout time.Duration) (protocol.Job, error) {
	return c.job(ctx, protocol.ReserveWithTimeout, seconds(timeout))
}

func (c *Client) ReserveJob(ctx context.Context, id uint64) (protocol.Job, error) {
	return c.job(ctx, protocol.ReserveJob, id)
}

func (c *Client) Delete(ctx context.Context, id uint64) error {
	_, err := c.call(ctx, protocol.Delete, []interface{}{id}, nil)
	return err
}

// Release puts a reserved job back into the ready queue, or the delayed
// queue if delay is at least a second.
func (c *Client) Release(ctx context.Context, id uint64, pri uint32, delay time.Duration) error {
	_, err := c.call(ctx, protocol.Release, []interface{}{id, pri, seconds(delay)}, nil)
	return err
}

func (c *Client) Bury(ctx context.Context, id uint64, pri uint32) error {
	_, err := c.call(ctx, protocol.Bury, []interface{}{id, pri}, nil)
	return err
}

// Touch asks for more time to work on a reserved job.
func (c *Client) Touch(ctx context.Context, id uint64) error {
	_, err := c.call(ctx, protocol.Touch, []interface{}{id}, nil)
	return err
}

// Watch adds tube to the watch list and returns how many tubes are watched.
func (c *Client) Watch(ctx context.Context, tube string) (int, error) {
	return c.count(ctx, protocol.Watch, tube)
}

// Ignore removes tube from the watch list. The last watched tube cannot be
// ignored.
func (c *Client) Ignore(ctx context.Context, tube string) (int, error) {
	return c.count(ctx, protocol.Ignore, tube)
}

// Peek returns the job with the given id, found is false if there is none.
func (c *Client) Peek(ctx context.Context, id uint64) (job protocol.Job, found bool, err error) {
	return c.peek(ctx, protocol.Peek, id)
}

func (c *Client) PeekReady(ctx context.Context) (job protocol.Job, found bool, err error) {
	return c.peek(ctx, protocol.PeekReady)
}

func (c *Client) PeekDelayed(ctx context.Context) (job protocol.Job, found bool, err error) {
	return c.peek(ctx, protocol.PeekDelayed)
}

func (c *Client) PeekBuried(ctx context.Context) (job protocol.Job, found bool, err error) {
	return c.peek(ctx, protocol.PeekBuried)
}

// Kick moves up to bound jobs of the used tube back to ready. Buried jobs are
// kicked if there are any, delayed jobs otherwise.
func (c *Client) Kick(ctx context.Context, bound int) (int, error) {
	return c.count(ctx, protocol.Kick, bound)
}

func (c *Client) KickJob(ctx context.Context, id uint64) error {
	_, err := c.call(ctx, protocol.KickJob, []interface{}{id}, nil)
	return err
}

func (c *Client) StatsJob(ctx context.Context, id uint64) (protocol.StatsMap, error) {
	return c.stats(ctx, protocol.StatsJob, id)
}

func (c *Client) StatsTube(ctx context.Context, tube string) (protocol.StatsMap, error) {
	return c.stats(ctx, protocol.StatsTube, tube)
}

func (c *Client) Stats(ctx context.Context) (protocol.StatsMap, error) {
	return c.stats(ctx, protocol.Stats)
}

func (c *Client) ListTubes(ctx context.Context) ([]string, error) {
	return c.list(ctx, protocol.ListTubes)
}

func (c *Client) ListTubeUsed(ctx context.Context) (string, error) {
	outcome, err := c.call(ctx, protocol.ListTubeUsed, nil, nil)
	if err != nil {
		return "", err
	}
	return outcome.Value.(string), nil
}

func (c *Client) ListTubesWatched(ctx context.Context) ([]string, error) {
	return c.list(ctx, protocol.ListTubesWatched)
}

// PauseTube stops jobs in tube from being reserved for delay.
func (c *Client) PauseTube(ctx context.Context, tube string, delay time.Duration) error {
	_, err := c.call(ctx, protocol.PauseTube, []interface{}{tube, seconds(delay)}, nil)
	return err
}

func (c *Client) name(ctx context.Context, verb protocol.Verb, args ...interface{}) (string, error) {
	outcome, err := c.call(ctx, verb, args, nil)
	if err != nil {
		return "", err
	}
	return outcome.Value.(string), nil
}

func (c *Client) count(ctx context.Context, verb protocol.Verb, args ...interface{}) (int, error) {
	outcome, err := c.call(ctx, verb, args, nil)
	if err != nil {
		return 0, err
	}
	return outcome.Value.(int), nil
}

func (c *Client) job(ctx context.Context, verb protocol.Verb, args ...interface{}) (protocol.Job, error) {
	outcome, err := c.call(ctx, verb, args, nil)
	if err != nil {
		return protocol.Job{}, err
	}
	return outcome.Value.(protocol.Job), nil
}

func (c *Client) peek(ctx context.Context, verb protocol.Verb, args ...interface{}) (protocol.Job, bool, error) {
	outcome, err := c.call(ctx, verb, args, nil)
	if err != nil || !outcome.Found {
		return protocol.Job{}, false, err
	}
	return outcome.Value.(protocol.Job), true, nil
}

func (c *Client) stats(ctx context.Context, verb protocol.Verb, args ...interface{}) (protocol.StatsMap, error) {
	outcome, err := c.call(ctx, verb, args, nil)
	if err != nil {
		return nil, err
	}
	return outcome.Value.(protocol.StatsMap), nil
}

func (c *Client) list(ctx context.Context, verb protocol.Verb) ([]string, error) {
	outcome, err := c.call(ctx, verb, nil, nil)
	if err != nil {
		return nil, err
	}
	return outcome.Value.([]string), nil
}

func seconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}
