package handler_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/syncproxy/internal/backend"
	"github.com/angeloszaimis/syncproxy/internal/handler"
	"github.com/angeloszaimis/syncproxy/internal/syncgate"
	"github.com/angeloszaimis/syncproxy/pkg/logger"
)

// timeline records the order in which collaborators were reached.
type timeline struct {
	mutex  sync.Mutex
	events []string
}

func (t *timeline) add(event string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.events = append(t.events, event)
}

func (t *timeline) get() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]string(nil), t.events...)
}

type changedSyncer struct{}

func (changedSyncer) Sync(context.Context) syncgate.Result {
	return syncgate.Changed("Updating 1a2b3c4..5d6e7f8")
}

type slowRestarter struct {
	timeline *timeline
}

func (r *slowRestarter) Restart() error {
	time.Sleep(30 * time.Millisecond)
	r.timeline.add("restart")
	return nil
}

type countingGate struct {
	calls atomic.Int32
}

func (g *countingGate) MaybeSync(context.Context) syncgate.Outcome {
	g.calls.Add(1)
	return syncgate.OutcomeSkipped
}

type failingTransport struct {
	failures int32
	calls    atomic.Int32
}

func (f *failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("dial tcp 127.0.0.1:8001: connect: connection refused")
	}
	return http.DefaultTransport.RoundTrip(r)
}

var _ = Describe("ForwardHandler", func() {
	var (
		upstream  *httptest.Server
		upstreamH http.HandlerFunc
		hits      atomic.Int32
		gate      *countingGate
		opts      backend.Options
		maxBody   int64
	)

	newHandler := func(g handler.Gate) *handler.ForwardHandler {
		u, err := url.Parse(upstream.URL)
		Expect(err).NotTo(HaveOccurred())
		target := backend.New(u, opts, logger.Discard())
		return handler.NewForwardHandler(logger.Discard(), g, target, maxBody, nil)
	}

	serve := func(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		hits.Store(0)
		gate = &countingGate{}
		opts = backend.Options{MaxAttempts: 10, RetryDelay: 5 * time.Millisecond}
		maxBody = 1 << 20
		upstreamH = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "ok")
		}

		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			upstreamH(w, r)
		}))
	})

	AfterEach(func() {
		upstream.Close()
	})

	It("should consult the sync gate on every request", func() {
		h := newHandler(gate)

		serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		serve(h, httptest.NewRequest(http.MethodGet, "/review", nil))

		Expect(gate.calls.Load()).To(Equal(int32(2)))
	})

	It("should mirror status, headers and body", func() {
		upstreamH = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Keep-Alive", "timeout=5")
			w.Header().Add("Set-Cookie", "a=1")
			w.Header().Add("Set-Cookie", "b=2")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte{0x00, 0xff, 0x10, 'x'})
		}
		h := newHandler(gate)

		w := serve(h, httptest.NewRequest(http.MethodPost, "/cards", strings.NewReader("front=Q")))

		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(w.Body.Bytes()).To(Equal([]byte{0x00, 0xff, 0x10, 'x'}))
		Expect(w.Header().Get("Content-Type")).To(Equal("application/octet-stream"))
		Expect(w.Header().Values("Set-Cookie")).To(Equal([]string{"a=1", "b=2"}))
		Expect(w.Header()).NotTo(HaveKey("Keep-Alive"))
	})

	It("should forward the raw path, query and method", func() {
		var uri, method, body string
		upstreamH = func(w http.ResponseWriter, r *http.Request) {
			uri, method = r.RequestURI, r.Method
			data, _ := io.ReadAll(r.Body)
			body = string(data)
		}
		h := newHandler(gate)

		serve(h, httptest.NewRequest(http.MethodPatch, "/decks/a%2Fb?q=%20x&q=2", strings.NewReader("grade=3")))

		Expect(uri).To(Equal("/decks/a%2Fb?q=%20x&q=2"))
		Expect(method).To(Equal(http.MethodPatch))
		Expect(body).To(Equal("grade=3"))
	})

	It("should strip hop-by-hop request headers", func() {
		var seen http.Header
		upstreamH = func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Clone()
		}
		h := newHandler(gate)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Proxy-Authorization", "Basic Zm9vOmJhcg==")
		req.Header.Set("Upgrade", "h2c")
		req.Header.Set("X-Request-Id", "42")
		serve(h, req)

		Expect(seen.Get("X-Request-Id")).To(Equal("42"))
		Expect(seen).NotTo(HaveKey("Proxy-Authorization"))
		Expect(seen).NotTo(HaveKey("Upgrade"))
	})

	It("should forward client errors untouched", func() {
		upstreamH = func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}
		h := newHandler(gate)

		w := serve(h, httptest.NewRequest(http.MethodGet, "/missing", nil))

		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(w.Body.String()).To(Equal("404 page not found\n"))
		Expect(hits.Load()).To(Equal(int32(1)))
	})

	It("should pass redirects through", func() {
		upstreamH = func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/done", http.StatusSeeOther)
		}
		h := newHandler(gate)

		w := serve(h, httptest.NewRequest(http.MethodPost, "/review", nil))

		Expect(w.Code).To(Equal(http.StatusSeeOther))
		Expect(w.Header().Get("Location")).To(Equal("/done"))
		Expect(hits.Load()).To(Equal(int32(1)))
	})

	It("should deliver once the backend comes up after three failures", func() {
		transport := &failingTransport{failures: 3}
		opts.Transport = transport
		h := newHandler(gate)

		w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("ok"))
		Expect(transport.calls.Load()).To(Equal(int32(4)))
	})

	It("should answer 502 once every attempt failed", func() {
		transport := &failingTransport{failures: 1000}
		opts.Transport = transport
		h := newHandler(gate)

		w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(w.Code).To(Equal(http.StatusBadGateway))
		Expect(w.Body.String()).To(HavePrefix("Bad Gateway: "))
		Expect(w.Body.String()).To(ContainSubstring("connection refused"))
		Expect(transport.calls.Load()).To(Equal(int32(10)))
		Expect(hits.Load()).To(BeZero())
	})

	It("should reject an oversized body without contacting the backend", func() {
		maxBody = 8
		h := newHandler(gate)

		w := serve(h, httptest.NewRequest(http.MethodPost, "/import", strings.NewReader(strings.Repeat("x", 64))))

		Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
		Expect(hits.Load()).To(BeZero())
	})

	It("should restart the backend before forwarding when content changed", func() {
		events := &timeline{}
		upstreamH = func(w http.ResponseWriter, r *http.Request) {
			events.add("forward")
		}

		realGate := syncgate.New(logger.Discard(), changedSyncer{}, &slowRestarter{timeline: events},
			30*time.Second, time.Second, nil)
		h := newHandler(realGate)

		w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(events.get()).To(Equal([]string{"restart", "forward"}))
	})

	It("should work without a gate", func() {
		h := newHandler(nil)

		w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
	})
})
