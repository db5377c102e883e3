package probe_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/probe"
)

var _ = Describe("Executor", func() {
	var executor *probe.Executor

	BeforeEach(func() {
		executor = probe.New()
	})

	Describe("HTTP probes", func() {
		It("passes when the status code is in the expected set", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ready"))
			}))
			defer server.Close()

			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindHTTP,
				Timeout: time.Second,
				HTTP: probe.HTTPSpec{
					URL:                 server.URL,
					ExpectedStatusCodes: []int{200},
				},
			})

			Expect(result.Status).To(Equal(domain.ProbePass))
		})

		It("fails when the status code is not in the expected set", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindHTTP,
				Timeout: time.Second,
				HTTP: probe.HTTPSpec{
					URL:                 server.URL,
					ExpectedStatusCodes: []int{200},
				},
			})

			Expect(result.Status).To(Equal(domain.ProbeFail))
			Expect(result.Message).NotTo(BeEmpty())
		})

		It("fails when the body does not match the expected pattern", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("not ready"))
			}))
			defer server.Close()

			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindHTTP,
				Timeout: time.Second,
				HTTP: probe.HTTPSpec{
					URL:                 server.URL,
					ExpectedStatusCodes: []int{200},
					ExpectedBodyMatcher: regexp.MustCompile(`^ready$`),
				},
			})

			Expect(result.Status).To(Equal(domain.ProbeFail))
		})

		It("fails without blocking past the configured timeout", func() {
			blocked := make(chan struct{})
			defer close(blocked)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				<-blocked
			}))
			defer server.Close()

			start := time.Now()
			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindHTTP,
				Timeout: 50 * time.Millisecond,
				HTTP:    probe.HTTPSpec{URL: server.URL},
			})

			Expect(result.Status).To(Equal(domain.ProbeFail))
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		})
	})

	Describe("TCP probes", func() {
		It("passes when the connection succeeds", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			defer server.Close()

			listenerAddr := server.Listener.Addr().String()
			host, port := splitHostPort(listenerAddr)

			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindTCP,
				Timeout: time.Second,
				TCP:     probe.TCPSpec{Host: host, Port: port},
			})

			Expect(result.Status).To(Equal(domain.ProbePass))
		})

		It("fails when nothing is listening", func() {
			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindTCP,
				Timeout: 200 * time.Millisecond,
				TCP:     probe.TCPSpec{Host: "127.0.0.1", Port: 1},
			})

			Expect(result.Status).To(Equal(domain.ProbeFail))
		})
	})

	Describe("Exec probes", func() {
		It("passes when the exit code matches", func() {
			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindExec,
				Timeout: time.Second,
				Exec:    probe.ExecSpec{Argv: []string{"true"}, ExpectedCode: 0},
			})

			Expect(result.Status).To(Equal(domain.ProbePass))
		})

		It("fails when the exit code does not match", func() {
			result := executor.Run(context.Background(), probe.Descriptor{
				Kind:    probe.KindExec,
				Timeout: time.Second,
				Exec:    probe.ExecSpec{Argv: []string{"false"}, ExpectedCode: 0},
			})

			Expect(result.Status).To(Equal(domain.ProbeFail))
		})
	})

	It("classifies an unknown probe kind as fail, never raising", func() {
		result := executor.Run(context.Background(), probe.Descriptor{Kind: "bogus", Timeout: time.Second})
		Expect(result.Status).To(Equal(domain.ProbeFail))
	})
})

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(portStr)
	Expect(err).NotTo(HaveOccurred())
	return host, port
}
