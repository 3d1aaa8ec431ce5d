package stripe_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker/v2"

	stripe "github.com/JohnPlummer/jp-go-stripe"
)

var _ = Describe("CircuitBreakerTransport", func() {
	var (
		transport *mockTransport
		breaker   *stripe.CircuitBreakerTransport
		ctx       context.Context
		logger    *slog.Logger
		req       *http.Request
	)

	respondWith := func(status int) {
		transport.executeFunc = func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return newResponse(status, `{}`), nil
		}
	}

	failWith := func(err error) {
		transport.executeFunc = func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return nil, err
		}
	}

	send := func(n int) {
		for i := 0; i < n; i++ {
			resp, err := breaker.Execute(ctx, req)
			if err == nil {
				_ = resp.Body.Close()
			}
		}
	}

	BeforeEach(func() {
		transport = &mockTransport{}
		respondWith(http.StatusOK)
		ctx = context.Background()
		logger = quietLogger()

		var err error
		req, err = http.NewRequest(http.MethodGet, "https://api.example.test/v1/balance", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Default Configuration", func() {
		It("should create a breaker with default settings", func() {
			breaker = stripe.NewCircuitBreakerTransport(transport)
			Expect(breaker).NotTo(BeNil())
			Expect(breaker.State()).To(Equal(stripe.StateClosed))
		})

		It("should have default ReadyToTrip function", func() {
			config := stripe.DefaultCircuitBreakerConfig()
			Expect(config.ReadyToTrip).NotTo(BeNil())

			// Test the 60% threshold with 3 requests
			counts := stripe.CircuitBreakerCounts{
				Requests:      3,
				TotalFailures: 2,
			}
			Expect(config.ReadyToTrip(counts)).To(BeTrue()) // 2/3 = 66.6% > 60%

			counts = stripe.CircuitBreakerCounts{
				Requests:      3,
				TotalFailures: 1,
			}
			Expect(config.ReadyToTrip(counts)).To(BeFalse()) // 1/3 = 33.3% < 60%
		})

		It("should hand out independent default trip statuses", func() {
			first := stripe.NewHTTPStatusClassifier()
			Expect(first.CircuitTripStatuses).To(Equal([]int{500, 502, 503, 504}))

			first.CircuitTripStatuses[0] = 418
			Expect(stripe.NewHTTPStatusClassifier().CircuitTripStatuses).To(Equal([]int{500, 502, 503, 504}))
			Expect((&stripe.HTTPStatusClassifier{}).ShouldTripCircuit(
				stripe.NewStatusCodeError(500, errors.New("boom")))).To(BeTrue())
		})

		It("should name every state", func() {
			Expect(stripe.StateClosed.String()).To(Equal("closed"))
			Expect(stripe.StateHalfOpen.String()).To(Equal("half-open"))
			Expect(stripe.StateOpen.String()).To(Equal("open"))
			Expect(stripe.CircuitBreakerState(7).String()).To(Equal("unknown"))
		})

		It("should use the documented defaults", func() {
			config := stripe.DefaultCircuitBreakerConfig()
			Expect(config.Name).To(Equal(stripe.DefaultCircuitBreakerName))
			Expect(config.MaxRequests).To(Equal(uint32(3)))
			Expect(config.Interval).To(Equal(10 * time.Second))
			Expect(config.Timeout).To(Equal(30 * time.Second))
		})
	})

	Describe("State Transitions", func() {
		Context("Closed to Open", func() {
			It("should trip after repeated 5xx responses", func() {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithCircuitBreakerLogger(logger))

				respondWith(http.StatusServiceUnavailable)
				send(3)

				Expect(breaker.State()).To(Equal(stripe.StateOpen))
			})

			It("should hand 5xx responses back to the caller", func() {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithCircuitBreakerLogger(logger))

				respondWith(http.StatusBadGateway)
				resp, err := breaker.Execute(ctx, req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(breaker.Counts().TotalFailures).To(Equal(uint32(1)))
			})

			It("should trip after repeated transport failures", func() {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithCircuitBreakerLogger(logger))

				failWith(errors.New("connection refused"))
				send(3)

				Expect(breaker.State()).To(Equal(stripe.StateOpen))
			})

			It("should not trip circuit with less than 3 requests", func() {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithCircuitBreakerLogger(logger))

				respondWith(http.StatusInternalServerError)
				send(2)

				Expect(breaker.State()).To(Equal(stripe.StateClosed))
			})

			It("should not trip circuit with failure rate below 60%", func() {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithCircuitBreakerLogger(logger))

				// Successes first so the ratio stays low when failures arrive
				send(3)
				respondWith(http.StatusInternalServerError)
				send(2)

				Expect(breaker.State()).To(Equal(stripe.StateClosed))
			})
		})

		Context("Open to Half-Open", func() {
			It("should transition to half-open after timeout", func() {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithTimeout(100*time.Millisecond),
					stripe.WithCircuitBreakerLogger(logger))

				respondWith(http.StatusInternalServerError)
				send(3)
				Expect(breaker.State()).To(Equal(stripe.StateOpen))

				// Wait for timeout
				time.Sleep(150 * time.Millisecond)

				respondWith(http.StatusOK)
				resp, err := breaker.Execute(ctx, req)
				Expect(err).NotTo(HaveOccurred())
				_ = resp.Body.Close()
				Expect(breaker.State()).To(Equal(stripe.StateHalfOpen))
				Expect(breaker.GetHealth().Healthy).To(BeTrue())
				Expect(breaker.GetHealth().Status).To(Equal("half-open"))
			})

			It("should close after MaxRequests successes in half-open", func() {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithTimeout(50*time.Millisecond),
					stripe.WithMaxRequests(2),
					stripe.WithCircuitBreakerLogger(logger))

				respondWith(http.StatusInternalServerError)
				send(3)
				time.Sleep(80 * time.Millisecond)

				respondWith(http.StatusOK)
				send(2)
				Expect(breaker.State()).To(Equal(stripe.StateClosed))
			})
		})
	})

	Describe("Open state", func() {
		It("rejects attempts without reaching the transport", func() {
			breaker = stripe.NewCircuitBreakerTransport(transport,
				stripe.WithCircuitBreakerLogger(logger))

			respondWith(http.StatusInternalServerError)
			send(3)
			transport.resetCallCount()

			_, err := breaker.Execute(ctx, req)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, gobreaker.ErrOpenState)).To(BeTrue())
			Expect(transport.getCallCount()).To(Equal(0))
		})
	})

	Describe("Error classification", func() {
		DescribeTable("responses that never trip the circuit",
			func(status int) {
				breaker = stripe.NewCircuitBreakerTransport(transport,
					stripe.WithCircuitBreakerLogger(logger))

				respondWith(status)
				send(5)

				Expect(breaker.State()).To(Equal(stripe.StateClosed))
			},
			Entry("400 bad request", 400),
			Entry("402 request failed", 402),
			Entry("404 not found", 404),
			Entry("409 conflict", 409),
			Entry("429 rate limit", 429),
		)

		It("should not trip circuit on context deadline exceeded", func() {
			breaker = stripe.NewCircuitBreakerTransport(transport,
				stripe.WithCircuitBreakerLogger(logger))

			failWith(context.DeadlineExceeded)
			send(5)

			Expect(breaker.State()).To(Equal(stripe.StateClosed))
		})

		It("should not trip circuit on context canceled", func() {
			breaker = stripe.NewCircuitBreakerTransport(transport,
				stripe.WithCircuitBreakerLogger(logger))

			failWith(context.Canceled)
			send(5)

			Expect(breaker.State()).To(Equal(stripe.StateClosed))
		})

		It("should honour custom trip statuses", func() {
			classifier := &stripe.HTTPStatusClassifier{CircuitTripStatuses: []int{503}}
			breaker = stripe.NewCircuitBreakerTransport(transport,
				stripe.WithCircuitBreakerErrorClassifier(classifier),
				stripe.WithReadyToTrip(func(counts stripe.CircuitBreakerCounts) bool {
					return counts.ConsecutiveFailures >= 3
				}),
				stripe.WithCircuitBreakerLogger(logger))

			respondWith(http.StatusInternalServerError)
			send(5)
			Expect(breaker.State()).To(Equal(stripe.StateClosed))

			respondWith(http.StatusServiceUnavailable)
			send(5)
			Expect(breaker.State()).To(Equal(stripe.StateOpen))
		})
	})

	Describe("State change callback", func() {
		It("reports transitions with the configured name", func() {
			var (
				mu          sync.Mutex
				transitions []string
			)
			breaker = stripe.NewCircuitBreakerTransport(transport,
				stripe.WithName("payments"),
				stripe.WithCircuitBreakerLogger(logger),
				stripe.WithStateChangeHandler(func(name string, from, to stripe.CircuitBreakerState) {
					mu.Lock()
					defer mu.Unlock()
					transitions = append(transitions, name+":"+from.String()+"->"+to.String())
				}))

			respondWith(http.StatusInternalServerError)
			send(3)

			mu.Lock()
			defer mu.Unlock()
			Expect(transitions).To(ConsistOf("payments:closed->open"))
		})
	})

	Describe("GetHealth", func() {
		It("reports an open circuit as unhealthy", func() {
			breaker = stripe.NewCircuitBreakerTransport(transport,
				stripe.WithCircuitBreakerLogger(logger))
			Expect(breaker.GetHealth().Healthy).To(BeTrue())

			respondWith(http.StatusInternalServerError)
			send(3)

			health := breaker.GetHealth()
			Expect(health.Healthy).To(BeFalse())
			Expect(health.Status).To(Equal("open"))
			Expect(health.State).To(Equal("open"))
		})
	})
})

var _ = Describe("Client with circuit breaker", func() {
	var server *stubServer

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	It("surfaces an open circuit as a transport failure", func() {
		server = newStubServer(func(w http.ResponseWriter, r *http.Request, hit int) {
			writeJSON(w, http.StatusServiceUnavailable, errorEnvelope("api_error", "down"))
		})
		client := newTestClient(server.URL, stripe.WithCircuitBreaker(stripe.WithTimeout(time.Minute)))
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := stripe.Execute[customer](ctx, client, stripe.Get("/v1/balance"), stripe.Once())
			Expect(errors.Is(err, stripe.ErrUpstream)).To(BeTrue())
		}
		Expect(client.Health().Healthy).To(BeFalse())

		_, err := stripe.Execute[customer](ctx, client, stripe.Get("/v1/balance"), stripe.Retry(2))
		Expect(errors.Is(err, stripe.ErrTransport)).To(BeTrue())
		Expect(errors.Is(err, gobreaker.ErrOpenState)).To(BeTrue())
		Expect(server.getHitCount()).To(Equal(3))
	})

	It("reports healthy without a circuit breaker", func() {
		client := newTestClient("https://api.example.test")
		health := client.Health()
		Expect(health.Healthy).To(BeTrue())
		Expect(health.Status).To(Equal("closed"))
	})
})
