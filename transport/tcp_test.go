package transport_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/luma/bean/storage"
	"github.com/luma/bean/transport"
)

var _ = Describe("transport", func() {
	Describe("TCP", func() {
		var (
			tcp  *transport.TCP
			conn net.Conn
			r    *bufio.Reader
		)

		BeforeEach(func() {
			tcp = makeTCPServer()

			var err error
			conn, err = net.Dial("tcp", tcp.Addr())
			Expect(err).To(Succeed())
			r = bufio.NewReader(conn)
		})

		AfterEach(func() {
			conn.Close()
			Expect(tcp.Close()).To(Succeed())
		})

		send := func(s string) {
			_, err := conn.Write([]byte(s))
			Expect(err).To(Succeed())
		}

		expectLine := func(expected string) {
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			line, err := r.ReadString('\n')
			Expect(err).To(Succeed())
			Expect(line).To(Equal(expected))
		}

		readBody := func(line string) []byte {
			fields := strings.Fields(line)
			Expect(fields).NotTo(BeEmpty())
			Expect(fields[0]).To(Equal("OK"))

			n, err := strconv.Atoi(fields[len(fields)-1])
			Expect(err).To(Succeed())

			body := make([]byte, n+2)
			_, err = io.ReadFull(r, body)
			Expect(err).To(Succeed())
			return body[:n]
		}

		It("listens on the reported address", func() {
			Expect(tcp.Addr()).NotTo(HaveSuffix(":0"))
		})

		It("puts and reserves a job", func() {
			send("put 0 0 60 2\r\nhi\r\n")
			expectLine("INSERTED 1\r\n")

			send("reserve\r\n")
			expectLine("RESERVED 1 2\r\n")
			expectLine("hi\r\n")

			send("delete 1\r\n")
			expectLine("DELETED\r\n")

			send("delete 1\r\n")
			expectLine("NOT_FOUND\r\n")
		})

		It("answers pipelined commands in order", func() {
			send("use emails\r\nput 1 0 60 1\r\na\r\nlist-tube-used\r\npeek-ready\r\n")
			expectLine("USING emails\r\n")
			expectLine("INSERTED 1\r\n")
			expectLine("USING emails\r\n")
			expectLine("FOUND 1 1\r\n")
			expectLine("a\r\n")
		})

		It("times out a reserve with a timeout", func() {
			send("reserve-with-timeout 0\r\n")
			expectLine("TIMED_OUT\r\n")
		})

		It("rejects unknown commands and stays usable", func() {
			send("EVIL\r\n")
			expectLine("UNKNOWN_COMMAND\r\n")

			send("watch emails\r\n")
			expectLine("WATCHING 2\r\n")
		})

		It("rejects bad arguments", func() {
			send("delete abc\r\n")
			expectLine("BAD_FORMAT\r\n")

			send("use -bad\r\n")
			expectLine("BAD_FORMAT\r\n")
		})

		It("rejects jobs that are too big", func() {
			send("put 0 0 60 20\r\n01234567890123456789\r\n")
			expectLine("JOB_TOO_BIG\r\n")
		})

		It("rejects bodies without a trailing \r\n", func() {
			send("put 0 0 60 2\r\nhiX\r\n")
			expectLine("EXPECTED_CRLF\r\n")
		})

		It("does not ignore the last watched tube", func() {
			send("ignore default\r\n")
			expectLine("NOT_IGNORED\r\n")
		})

		It("answers stats as YAML", func() {
			send("stats\r\n")
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			line, err := r.ReadString('\n')
			Expect(err).To(Succeed())

			stats := map[string]interface{}{}
			Expect(yaml.Unmarshal(readBody(line), &stats)).To(Succeed())
			Expect(stats).To(HaveKeyWithValue("current-connections", 1))
			Expect(stats).To(HaveKeyWithValue("cmd-stats", 1))
		})

		It("lists tubes as YAML", func() {
			send("watch emails\r\n")
			expectLine("WATCHING 2\r\n")

			send("list-tubes-watched\r\n")
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			line, err := r.ReadString('\n')
			Expect(err).To(Succeed())

			var tubes []string
			Expect(yaml.Unmarshal(readBody(line), &tubes)).To(Succeed())
			Expect(tubes).To(Equal([]string{"default", "emails"}))
		})

		It("gives back the reservations of a client that disconnects", func() {
			send("put 0 0 60 1\r\na\r\nreserve\r\n")
			expectLine("INSERTED 1\r\n")
			expectLine("RESERVED 1 1\r\n")
			expectLine("a\r\n")

			conn.Close()

			Eventually(func() storage.JobState {
				job, err := tcp.Store().Peek(1)
				Expect(err).To(Succeed())
				return job.State
			}).Should(Equal(storage.Ready))
		})

		It("closes connections when the server closes", func() {
			Expect(tcp.Close()).To(Succeed())

			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			_, err := r.ReadByte()
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("NewTCP", func() {
	dialAndPut := func(tcp *transport.TCP) {
		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write([]byte("put 0 0 60 1\r\na\r\n"))
		Expect(err).To(Succeed())

		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
		line, err := bufio.NewReader(conn).ReadString('\n')
		Expect(err).To(Succeed())
		Expect(line).To(HavePrefix("INSERTED "))
	}

	It("binds a single listener without SO_REUSEPORT", func() {
		tcp := transport.NewTCP(transport.Options{
			Host:         "127.0.0.1",
			NumListeners: 4,
			Store:        storage.NewInmemoryStore(storage.Options{}),
		})

		// A second plain listener on the same port would fail to bind
		Expect(tcp.Start(context.Background())).To(Succeed())
		defer tcp.Close()

		dialAndPut(tcp)
	})

	It("binds several listeners on one port with SO_REUSEPORT", func() {
		tcp := transport.NewTCP(transport.Options{
			Host:      "127.0.0.1",
			Reuseport: true,
			Store:     storage.NewInmemoryStore(storage.Options{}),
		})

		Expect(tcp.Start(context.Background())).To(Succeed())
		defer tcp.Close()

		dialAndPut(tcp)
	})
})

func makeTCPServer() *transport.TCP {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	tcp := transport.NewTCP(transport.Options{
		Log:          log,
		Host:         "127.0.0.1",
		Port:         0,
		NumListeners: 1,
		MaxJobSize:   16,
		Reuseport:    true,
		Store:        storage.NewInmemoryStore(storage.Options{MaxJobSize: 16}),
	})

	Expect(tcp.Start(context.Background())).To(Succeed())

	return tcp
}
