package email

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/emaileria/internal/models"
)

// Scenario enumerates the supported mock behaviours.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"
	ScenarioDrop      Scenario = "drop"
	ScenarioPanic     Scenario = "panic"
)

// ErrConnectionDropped is returned by the mock for ScenarioDrop.
var ErrConnectionDropped = errors.New("mock: connection unexpectedly closed")

// ParseScenario maps a name to a Scenario, defaulting to success.
func ParseScenario(value string) Scenario {
	switch Scenario(strings.ToLower(strings.TrimSpace(value))) {
	case ScenarioTransient:
		return ScenarioTransient
	case ScenarioPermanent:
		return ScenarioPermanent
	case ScenarioTimeout:
		return ScenarioTimeout
	case ScenarioDrop:
		return ScenarioDrop
	case ScenarioPanic:
		return ScenarioPanic
	default:
		return ScenarioSuccess
	}
}

// MockOption customizes the behaviour of the mock transport.
type MockOption func(*MockTransport)

// WithLatencyRange overrides the simulated latency range. Negative values are
// clamped to zero and max < min is coerced to min.
func WithLatencyRange(min, max time.Duration) MockOption {
	return func(p *MockTransport) {
		if min < 0 {
			min = 0
		}
		if max < min {
			max = min
		}
		p.minLatency = min
		p.maxLatency = max
	}
}

// WithDefaultScenario configures the behaviour for recipients without a
// scripted outcome.
func WithDefaultScenario(s Scenario) MockOption {
	return func(p *MockTransport) {
		p.defaultScenario = s
	}
}

// WithScript queues outcomes for one recipient. Each send consumes the next
// scenario; once exhausted the default scenario applies.
func WithScript(recipient string, scenarios ...Scenario) MockOption {
	return func(p *MockTransport) {
		key := strings.ToLower(strings.TrimSpace(recipient))
		p.scripts[key] = append(p.scripts[key], scenarios...)
	}
}

// WithRandomSeed swaps the RNG seed used for latency sampling.
func WithRandomSeed(seed int64) MockOption {
	return func(p *MockTransport) {
		p.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic seed for tests.
	}
}

// WithMockClock overrides the clock used for timestamps.
func WithMockClock(now func() time.Time) MockOption {
	return func(p *MockTransport) {
		if now != nil {
			p.now = now
		}
	}
}

// MockTransport simulates an SMTP server without network calls. It records
// every message it accepted and every call it received.
type MockTransport struct {
	logger          zerolog.Logger
	minLatency      time.Duration
	maxLatency      time.Duration
	defaultScenario Scenario
	now             func() time.Time

	mu       sync.Mutex
	rnd      *rand.Rand
	scripts  map[string][]Scenario
	calls    []string
	accepted []*models.ComposedMessage
	closed   bool
}

// NewMockTransport constructs a mock transport. By default every message
// succeeds after 25ms to 75ms.
func NewMockTransport(logger zerolog.Logger, opts ...MockOption) *MockTransport {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &MockTransport{
		logger:          logger.With().Str("component", "mock_transport").Logger(),
		minLatency:      25 * time.Millisecond,
		maxLatency:      75 * time.Millisecond,
		defaultScenario: ScenarioSuccess,
		now:             time.Now,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
		scripts:         make(map[string][]Scenario),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Send simulates delivering msg according to the recipient's script.
func (p *MockTransport) Send(ctx context.Context, msg *models.ComposedMessage) (*models.DeliveryResult, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	if len(msg.Recipients()) == 0 {
		return nil, errors.New("mock: at least one recipient is required")
	}

	scenario := p.nextScenario(msg.To)
	if err := p.sleep(ctx, p.sampleLatency()); err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("scenario", string(scenario)).
		Str("message_id", msg.MessageID).
		Msg("mock transport invoked")

	switch scenario {
	case ScenarioPermanent:
		return p.stamp(rejected(msg, "550 5.1.1 mock: mailbox unavailable")), nil
	case ScenarioTransient:
		return p.stamp(rejected(msg, "451 4.3.0 mock: requested action aborted, try again later")), nil
	case ScenarioTimeout:
		return nil, errors.New("mock: read tcp 127.0.0.1:25: i/o timeout")
	case ScenarioDrop:
		return nil, ErrConnectionDropped
	case ScenarioPanic:
		panic("mock: transport failure")
	default:
		p.mu.Lock()
		p.accepted = append(p.accepted, msg)
		p.mu.Unlock()
		return p.stamp(accepted(msg, "")), nil
	}
}

// Close marks the transport closed.
func (p *MockTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *MockTransport) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Calls returns the recipients of every Send call in order.
func (p *MockTransport) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Accepted returns the messages that were delivered successfully.
func (p *MockTransport) Accepted() []*models.ComposedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.ComposedMessage(nil), p.accepted...)
}

func (p *MockTransport) nextScenario(recipient string) Scenario {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, recipient)

	key := strings.ToLower(strings.TrimSpace(recipient))
	queue := p.scripts[key]
	if len(queue) == 0 {
		return p.defaultScenario
	}
	p.scripts[key] = queue[1:]
	return queue[0]
}

func (p *MockTransport) sampleLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxLatency <= p.minLatency {
		return p.minLatency
	}
	delta := p.maxLatency - p.minLatency
	return p.minLatency + time.Duration(p.rnd.Int63n(int64(delta)+1))
}

func (p *MockTransport) stamp(res *models.DeliveryResult) *models.DeliveryResult {
	res.Timestamp = p.now()
	return res
}

func (p *MockTransport) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
