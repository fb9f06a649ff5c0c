package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/bean/storage"
	"github.com/luma/bean/transport"
)

var _ = Describe("cmd", func() {
	var tcp *transport.TCP

	BeforeEach(func() {
		tcp = transport.NewTCP(transport.Options{
			Host:  "127.0.0.1",
			Port:  0,
			Store: storage.NewInmemoryStore(storage.Options{}),
		})
		Expect(tcp.Start(context.Background())).To(Succeed())
	})

	AfterEach(func() {
		Expect(tcp.Close()).To(Succeed())
	})

	run := func(args ...string) (string, error) {
		var out bytes.Buffer

		RootCmd.SetOut(&out)
		RootCmd.SetErr(&out)
		RootCmd.SetIn(strings.NewReader("from stdin"))
		RootCmd.SetArgs(append([]string{"--addr", tcp.Addr()}, args...))

		err := RootCmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	Describe("client commands", func() {
		It("puts and reserves jobs", func() {
			out, err := run("put", "hello")
			Expect(err).To(Succeed())
			Expect(out).To(Equal("1\n"))

			out, err = run("put")
			Expect(err).To(Succeed())
			Expect(out).To(Equal("2\n"))

			out, err = run("reserve", "--timeout", "0", "--delete")
			Expect(err).To(Succeed())
			Expect(out).To(Equal("1\thello\n"))

			out, err = run("peek", "2")
			Expect(err).To(Succeed())
			Expect(out).To(Equal("2\tfrom stdin\n"))

			_, err = run("delete", "2")
			Expect(err).To(Succeed())

			_, err = run("delete", "2")
			Expect(err).To(HaveOccurred())
		})

		It("fails to reserve from an empty tube", func() {
			_, err := run("reserve", "--timeout", "0", "--delete=false")
			Expect(err).To(HaveOccurred())
		})

		It("prints statistics", func() {
			_, err := run("put", "x")
			Expect(err).To(Succeed())

			out, err := run("stats", "--get", "current-jobs-ready")
			Expect(err).To(Succeed())
			Expect(out).To(Equal("1\n"))

			out, err = run("stats", "--get", "", "--json")
			Expect(err).To(Succeed())
			Expect(out).To(ContainSubstring(`"current-jobs-ready":1`))

			out, err = run("stats", "--json=false")
			Expect(err).To(Succeed())
			Expect(out).To(ContainSubstring("current-jobs-ready: 1\n"))
		})

		It("lists tubes", func() {
			out, err := run("tubes")
			Expect(err).To(Succeed())
			Expect(out).To(Equal("default\n"))
		})

		It("reports connection failures", func() {
			addr := tcp.Addr()
			Expect(tcp.Close()).To(Succeed())

			RootCmd.SetArgs([]string{"--addr", addr, "tubes"})
			Expect(RootCmd.ExecuteContext(context.Background())).NotTo(Succeed())
		})
	})

	Describe("HTTP admin", func() {
		var router *gin.Engine

		BeforeEach(func() {
			router = setupRouter(false, zap.NewNop())
			addRoutes(router, tcp)
		})

		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			router.ServeHTTP(w, req)
			return w
		}

		It("answers pings", func() {
			w := get("/ping")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("pong"))
		})

		It("serves server statistics", func() {
			w := get("/stats")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"current-connections":0`))
		})

		It("serves tube statistics", func() {
			w := get("/tubes/default")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"name":"default"`))

			w = get("/tubes/missing")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
