// Package probe implements the Probe Executor (§4.1): given one probe
// descriptor, run it and classify the outcome. Probes never raise —
// a transport failure classifies as fail with a message, the same
// discipline the teacher's platform/monitoring clients use for
// collaborator errors that must never propagate to callers.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pluginforge/orchestrator/pkg/domain"
)

// Kind discriminates the probe descriptor variant.
type Kind string

const (
	KindHTTP Kind = "http"
	KindTCP  Kind = "tcp"
	KindGRPC Kind = "grpc"
	KindExec Kind = "exec"
)

// HTTPSpec describes an HTTP probe.
type HTTPSpec struct {
	URL                 string
	Method              string
	Headers             map[string]string
	ExpectedStatusCodes []int
	ExpectedBodyMatcher *regexp.Regexp
}

// TCPSpec describes a TCP connect probe.
type TCPSpec struct {
	Host string
	Port int
}

// GRPCSpec describes a gRPC health-check probe. Core treats it as a
// TCP-reachability check against the service's port plus a recorded
// service name; a full gRPC health protocol client is a collaborator
// concern left to the production ObservabilityCollector.
type GRPCSpec struct {
	Host    string
	Port    int
	Service string
}

// ExecSpec describes a local-process probe.
type ExecSpec struct {
	Argv         []string
	ExpectedCode int
}

// Descriptor is one probe's configuration: exactly one of the typed
// fields is populated, selected by Kind. Using a tagged struct instead
// of an interface keeps the probe set declarable as plain data in a
// Health Monitor config.
type Descriptor struct {
	Name    string
	Kind    Kind
	Timeout time.Duration
	HTTP    HTTPSpec
	TCP     TCPSpec
	GRPC    GRPCSpec
	Exec    ExecSpec

	// RateLimit bounds how often this probe may actually run per
	// second; a zero value disables limiting. Guards a tight probe
	// period from storming a flaky target.
	RateLimit rate.Limit
}

// Executor runs probe descriptors and returns classified results. It
// is stateless except for a per-descriptor rate limiter cache, so a
// single Executor can be shared across every monitored plugin.
type Executor struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds an Executor.
func New() *Executor {
	return &Executor{limiters: make(map[string]*rate.Limiter)}
}

func (e *Executor) limiterFor(d Descriptor) *rate.Limiter {
	if d.RateLimit <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[d.Name]
	if !ok {
		l = rate.NewLimiter(d.RateLimit, 1)
		e.limiters[d.Name] = l
	}
	return l
}

// Run executes one probe descriptor and never returns an error: every
// failure mode is folded into the returned ProbeResult per §4.1.
func (e *Executor) Run(ctx context.Context, d Descriptor) domain.ProbeResult {
	if limiter := e.limiterFor(d); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return domain.ProbeResult{
				Status:     domain.ProbeWarn,
				Message:    "probe rate-limited: " + err.Error(),
				ObservedAt: time.Now(),
			}
		}
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var result domain.ProbeResult
	switch d.Kind {
	case KindHTTP:
		result = e.runHTTP(runCtx, d.HTTP)
	case KindTCP:
		result = e.runTCP(runCtx, d.TCP)
	case KindGRPC:
		result = e.runGRPC(runCtx, d.GRPC)
	case KindExec:
		result = e.runExec(runCtx, d.Exec)
	default:
		result = domain.ProbeResult{Status: domain.ProbeFail, Message: fmt.Sprintf("unknown probe kind %q", d.Kind)}
	}
	result.ResponseTime = time.Since(start)
	result.ObservedAt = time.Now()
	return result
}

func (e *Executor) runHTTP(ctx context.Context, spec HTTPSpec) domain.ProbeResult {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, nil)
	if err != nil {
		return domain.ProbeResult{Status: domain.ProbeFail, Message: "build request: " + err.Error()}
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.ProbeResult{Status: domain.ProbeFail, Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	statusOK := len(spec.ExpectedStatusCodes) == 0
	for _, code := range spec.ExpectedStatusCodes {
		if resp.StatusCode == code {
			statusOK = true
			break
		}
	}
	if !statusOK {
		return domain.ProbeResult{
			Status:  domain.ProbeFail,
			Message: fmt.Sprintf("unexpected status code %d", resp.StatusCode),
		}
	}

	if spec.ExpectedBodyMatcher != nil {
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return domain.ProbeResult{Status: domain.ProbeFail, Message: "read body: " + err.Error()}
		}
		if !spec.ExpectedBodyMatcher.Match(buf.Bytes()) {
			return domain.ProbeResult{Status: domain.ProbeFail, Message: "body did not match expected pattern"}
		}
	}

	return domain.ProbeResult{Status: domain.ProbePass, Message: fmt.Sprintf("status %d", resp.StatusCode)}
}

func (e *Executor) runTCP(ctx context.Context, spec TCPSpec) domain.ProbeResult {
	addr := fmt.Sprintf("%s:%d", spec.Host, spec.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return domain.ProbeResult{Status: domain.ProbeFail, Message: "connect failed: " + err.Error()}
	}
	_ = conn.Close()
	return domain.ProbeResult{Status: domain.ProbePass, Message: "connected"}
}

func (e *Executor) runGRPC(ctx context.Context, spec GRPCSpec) domain.ProbeResult {
	result := e.runTCP(ctx, TCPSpec{Host: spec.Host, Port: spec.Port})
	if result.Status == domain.ProbePass {
		result.Message = fmt.Sprintf("service %s reachable", spec.Service)
	}
	return result
}

func (e *Executor) runExec(ctx context.Context, spec ExecSpec) domain.ProbeResult {
	if len(spec.Argv) == 0 {
		return domain.ProbeResult{Status: domain.ProbeFail, Message: "empty argv"}
	}
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return domain.ProbeResult{Status: domain.ProbeFail, Message: "exec failed: " + err.Error()}
		}
	}

	if exitCode != spec.ExpectedCode {
		return domain.ProbeResult{
			Status:  domain.ProbeFail,
			Message: fmt.Sprintf("exit code %d, expected %d", exitCode, spec.ExpectedCode),
		}
	}
	return domain.ProbeResult{Status: domain.ProbePass, Message: fmt.Sprintf("exit code %d", exitCode)}
}
