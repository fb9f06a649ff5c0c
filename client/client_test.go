package client_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/bean/client"
	"github.com/luma/bean/protocol"
	"github.com/luma/bean/storage"
	"github.com/luma/bean/transport"
)

var _ = Describe("Client", func() {
	var (
		server *transport.TCP
		conn   *client.Conn
		c      *client.Client
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		server = transport.NewTCP(transport.Options{
			Host:  "127.0.0.1",
			Port:  0,
			Store: storage.NewInmemoryStore(storage.Options{}),
		})
		Expect(server.Start(ctx)).To(Succeed())

		var err error
		conn, err = client.Dial(ctx, client.Options{Addr: server.Addr(), DialTimeout: time.Second})
		Expect(err).To(Succeed())

		c = client.NewClient(conn)
	})

	AfterEach(func() {
		Expect(conn.Close()).To(Succeed())
		Expect(server.Close()).To(Succeed())
		cancel()
	})

	It("puts, reserves and deletes a job", func() {
		id, err := c.Put(ctx, []byte("hello"), 10, 0, time.Minute)
		Expect(err).To(Succeed())
		Expect(id).To(Equal(uint64(1)))

		job, err := c.Reserve(ctx)
		Expect(err).To(Succeed())
		Expect(job).To(Equal(protocol.Job{ID: 1, Body: []byte("hello")}))

		Expect(c.Touch(ctx, id)).To(Succeed())
		Expect(c.Delete(ctx, id)).To(Succeed())

		err = c.Delete(ctx, id)
		Expect(protocol.IsStatus(err, protocol.StatusNotFound)).To(BeTrue())
	})

	It("puts empty jobs", func() {
		id, err := c.Put(ctx, nil, 0, 0, time.Minute)
		Expect(err).To(Succeed())

		job, found, err := c.Peek(ctx, id)
		Expect(err).To(Succeed())
		Expect(found).To(BeTrue())
		Expect(job.Body).To(BeEmpty())
	})

	It("times out reserving from an empty tube", func() {
		_, err := c.ReserveWithTimeout(ctx, 0)
		Expect(protocol.IsStatus(err, protocol.StatusTimedOut)).To(BeTrue())
	})

	It("reserves a job by id", func() {
		_, err := c.Put(ctx, []byte("a"), 0, 0, time.Minute)
		Expect(err).To(Succeed())
		id, err := c.Put(ctx, []byte("b"), 0, 0, time.Minute)
		Expect(err).To(Succeed())

		job, err := c.ReserveJob(ctx, id)
		Expect(err).To(Succeed())
		Expect(job.Body).To(Equal([]byte("b")))

		_, err = c.ReserveJob(ctx, 99)
		Expect(protocol.IsStatus(err, protocol.StatusNotFound)).To(BeTrue())
	})

	It("switches and watches tubes", func() {
		tube, err := c.Use(ctx, "emails")
		Expect(err).To(Succeed())
		Expect(tube).To(Equal("emails"))

		used, err := c.ListTubeUsed(ctx)
		Expect(err).To(Succeed())
		Expect(used).To(Equal("emails"))

		n, err := c.Watch(ctx, "emails")
		Expect(err).To(Succeed())
		Expect(n).To(Equal(2))

		n, err = c.Ignore(ctx, "default")
		Expect(err).To(Succeed())
		Expect(n).To(Equal(1))

		_, err = c.Ignore(ctx, "emails")
		Expect(protocol.IsStatus(err, protocol.StatusNotIgnored)).To(BeTrue())

		watched, err := c.ListTubesWatched(ctx)
		Expect(err).To(Succeed())
		Expect(watched).To(Equal([]string{"emails"}))

		tubes, err := c.ListTubes(ctx)
		Expect(err).To(Succeed())
		Expect(tubes).To(ConsistOf("default", "emails"))
	})

	It("peeks, buries and kicks", func() {
		_, found, err := c.PeekReady(ctx)
		Expect(err).To(Succeed())
		Expect(found).To(BeFalse())

		id, err := c.Put(ctx, []byte("x"), 0, 0, time.Minute)
		Expect(err).To(Succeed())

		job, found, err := c.PeekReady(ctx)
		Expect(err).To(Succeed())
		Expect(found).To(BeTrue())
		Expect(job.ID).To(Equal(id))

		_, err = c.Reserve(ctx)
		Expect(err).To(Succeed())
		Expect(c.Bury(ctx, id, 5)).To(Succeed())

		job, found, err = c.PeekBuried(ctx)
		Expect(err).To(Succeed())
		Expect(found).To(BeTrue())
		Expect(job.ID).To(Equal(id))

		n, err := c.Kick(ctx, 10)
		Expect(err).To(Succeed())
		Expect(n).To(Equal(1))

		_, found, err = c.PeekBuried(ctx)
		Expect(err).To(Succeed())
		Expect(found).To(BeFalse())

		_, found, err = c.Peek(ctx, 404)
		Expect(err).To(Succeed())
		Expect(found).To(BeFalse())
	})

	It("releases jobs with a delay", func() {
		id, err := c.Put(ctx, []byte("x"), 0, 0, time.Minute)
		Expect(err).To(Succeed())

		_, err = c.Reserve(ctx)
		Expect(err).To(Succeed())
		Expect(c.Release(ctx, id, 0, time.Hour)).To(Succeed())

		job, found, err := c.PeekDelayed(ctx)
		Expect(err).To(Succeed())
		Expect(found).To(BeTrue())
		Expect(job.ID).To(Equal(id))

		Expect(c.KickJob(ctx, id)).To(Succeed())

		_, found, err = c.PeekReady(ctx)
		Expect(err).To(Succeed())
		Expect(found).To(BeTrue())
	})

	It("reports stats", func() {
		id, err := c.Put(ctx, []byte("x"), 0, 0, time.Minute)
		Expect(err).To(Succeed())

		stats, err := c.Stats(ctx)
		Expect(err).To(Succeed())
		Expect(stats).To(HaveKeyWithValue("current-jobs-ready", 1))
		Expect(stats).To(HaveKeyWithValue("cmd-put", 1))

		stats, err = c.StatsTube(ctx, "default")
		Expect(err).To(Succeed())
		Expect(stats).To(HaveKeyWithValue("name", "default"))

		stats, err = c.StatsJob(ctx, id)
		Expect(err).To(Succeed())
		Expect(stats).To(HaveKeyWithValue("state", "ready"))

		_, err = c.StatsTube(ctx, "missing")
		Expect(protocol.IsStatus(err, protocol.StatusNotFound)).To(BeTrue())
	})

	It("pauses tubes", func() {
		Expect(c.PauseTube(ctx, "default", time.Second)).To(Succeed())

		err := c.PauseTube(ctx, "missing", time.Second)
		Expect(protocol.IsStatus(err, protocol.StatusNotFound)).To(BeTrue())
	})

	It("pipelines commands on one connection", func() {
		pending := make([]*client.Pending, 0, 10)
		for i := 0; i < 10; i++ {
			p, err := conn.Execute(protocol.Put, []interface{}{0, 0, 60, 1}, []byte("p"))
			Expect(err).To(Succeed())
			pending = append(pending, p)
		}

		for i, p := range pending {
			outcome, err := p.Wait(ctx)
			Expect(err).To(Succeed())
			Expect(outcome.Value).To(Equal(uint64(i + 1)))
		}
	})

	It("fails commands when the server shuts down", func() {
		p, err := conn.Execute(protocol.Reserve, nil, nil)
		Expect(err).To(Succeed())

		Expect(server.Close()).To(Succeed())

		_, err = p.Wait(ctx)
		Expect(errors.Is(err, client.ErrConnectionLost)).To(BeTrue())
		Eventually(conn.Done()).Should(BeClosed())
	})
})
