package protocol_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/bean/protocol"
)

var _ = Describe("Writer", func() {
	Describe("Encode()", func() {
		It("encodes a command with no arguments", func() {
			b, err := protocol.Encode(protocol.Reserve, nil, nil)
			Expect(err).To(Succeed())
			Expect(string(b)).To(Equal("reserve\r\n"))
		})

		It("encodes a command with arguments", func() {
			b, err := protocol.Encode(protocol.Peek, []interface{}{10}, nil)
			Expect(err).To(Succeed())
			Expect(string(b)).To(Equal("peek 10\r\n"))

			b, err = protocol.Encode(protocol.PauseTube, []interface{}{"emails", uint32(30)}, nil)
			Expect(err).To(Succeed())
			Expect(string(b)).To(Equal("pause-tube emails 30\r\n"))
		})

		It("encodes a command with a body", func() {
			body := []byte("ab")
			b, err := protocol.Encode(protocol.Put, []interface{}{10, 0, 10, len(body)}, body)
			Expect(err).To(Succeed())
			Expect(string(b)).To(Equal("put 10 0 10 2\r\nab\r\n"))

			header := b[:bytes.Index(b, protocol.Terminal)]
			fields := bytes.Fields(header)
			Expect(string(fields[len(fields)-1])).To(Equal("2"))
			Expect(b).To(HaveLen(len(header) + 2 + 2 + 2))
		})

		It("writes an empty data line for an empty, non-nil body", func() {
			b, err := protocol.Encode(protocol.Put, []interface{}{0, 0, 1, 0}, []byte{})
			Expect(err).To(Succeed())
			Expect(string(b)).To(Equal("put 0 0 1 0\r\n\r\n"))
		})

		It("rejects verbs outside the command table", func() {
			_, err := protocol.Encode(protocol.Verb(-1), nil, nil)
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())

			_, err = protocol.Encode(protocol.Verb(1000), nil, nil)
			Expect(errors.Is(err, protocol.ErrInvalidCommand)).To(BeTrue())
		})

		It("rejects arguments that are not integers or strings", func() {
			_, err := protocol.Encode(protocol.Peek, []interface{}{1.5}, nil)
			Expect(errors.Is(err, protocol.ErrInvalidArgument)).To(BeTrue())

			_, err = protocol.Encode(protocol.Use, []interface{}{[]byte("tube")}, nil)
			Expect(errors.Is(err, protocol.ErrInvalidArgument)).To(BeTrue())
		})

		It("rejects string arguments that would break the line", func() {
			for _, arg := range []string{"", "two words", "tube\r\n", "tab\there"} {
				_, err := protocol.Encode(protocol.Use, []interface{}{arg}, nil)
				Expect(errors.Is(err, protocol.ErrInvalidArgument)).To(BeTrue(), arg)
			}
		})
	})

	Describe("WriteCommand()", func() {
		It("writes the whole command at once", func() {
			w := &countingWriter{}
			Expect(protocol.WriteCommand(w, protocol.Put, []interface{}{1, 2, 3, 5}, []byte("hello"))).To(Succeed())
			Expect(w.writes).To(Equal(1))
			Expect(w.String()).To(Equal("put 1 2 3 5\r\nhello\r\n"))
		})

		It("writes nothing when the command is invalid", func() {
			w := &countingWriter{}
			Expect(protocol.WriteCommand(w, protocol.Peek, []interface{}{"a b"}, nil)).NotTo(Succeed())
			Expect(w.writes).To(Equal(0))
		})
	})

	Describe("WriteStatus()", func() {
		It("ends in \r\n", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteStatus(w, protocol.StatusNotFound)).To(Succeed())
			Expect(w.String()).To(Equal("NOT_FOUND\r\n"))
		})

		It("includes the fields", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteStatus(w, protocol.StatusInserted, "12")).To(Succeed())
			Expect(w.String()).To(Equal("INSERTED 12\r\n"))
		})
	})

	Describe("WriteBody()", func() {
		It("appends the body length and the body", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteBody(w, protocol.StatusReserved, []byte("hello"), "7")).To(Succeed())
			Expect(w.String()).To(Equal("RESERVED 7 5\r\nhello\r\n"))
		})
	})

	Describe("round trip", func() {
		It("recovers the body length of every body-bearing response", func() {
			for _, status := range []protocol.Status{protocol.StatusReserved, protocol.StatusFound, protocol.StatusOK} {
				body := []byte("some job body")
				w := bytes.NewBuffer([]byte{})

				if status == protocol.StatusOK {
					Expect(protocol.WriteBody(w, status, body)).To(Succeed())
				} else {
					Expect(protocol.WriteBody(w, status, body, "3")).To(Succeed())
				}

				line, err := w.ReadBytes('\n')
				Expect(err).To(Succeed())

				hdr, err := protocol.ParseHeader(line)
				Expect(err).To(Succeed())
				Expect(hdr.Status).To(Equal(status))
				Expect(hdr.BodyLen).To(Equal(len(body)))
			}
		})

		It("lets a server read back what a client encoded", func() {
			body := []byte("payload")
			b, err := protocol.Encode(protocol.Put, []interface{}{1, 0, 60, len(body)}, body)
			Expect(err).To(Succeed())

			req, err := protocol.ReadRequest(bufioReader(string(b)), 1024)
			Expect(err).To(Succeed())
			Expect(req.Verb).To(Equal(protocol.Put))
			Expect(req.Args).To(Equal([]string{"1", "0", "60", "7"}))
			Expect(req.Body).To(Equal(body))
		})
	})
})

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}
