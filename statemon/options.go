package statemon

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// ProtocolErrorPolicy selects how Run handles a malformed or unknown frame.
type ProtocolErrorPolicy int

const (
	// DropProtocolErrors logs and discards the frame. This is the default.
	DropProtocolErrors ProtocolErrorPolicy = iota
	// FailOnProtocolError stops Run, returning the *ProtocolError.
	FailOnProtocolError
)

const (
	defaultWakeInterval = time.Second
	defaultReconnectMin = 100 * time.Millisecond
	defaultReconnectMax = 10 * time.Second
)

// defaultReconnectRates paces dial attempts, independent of the backoff.
func defaultReconnectRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 1,
		time.Minute: 20,
	}
}

// baseOptions holds configuration options for Base creation.
type baseOptions struct {
	logger         *logiface.Logger[logiface.Event]
	hooks          Hooks
	init           []func(*Base) error
	wakeInterval   time.Duration
	protocolPolicy ProtocolErrorPolicy
	reconnectMin   time.Duration
	reconnectMax   time.Duration
	reconnectRates map[time.Duration]int
}

// Option configures a Base, or a Monitor.
type Option interface {
	applyBase(*baseOptions) error
}

// baseOptionImpl implements Option.
type baseOptionImpl struct {
	applyBaseFunc func(*baseOptions) error
}

func (o *baseOptionImpl) applyBase(opts *baseOptions) error {
	return o.applyBaseFunc(opts)
}

// WithLogger configures the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &baseOptionImpl{func(opts *baseOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithHooks configures the per-frame notification hooks. A nil value
// restores the default, [NopHooks]. Ignored by [NewMonitor], which installs
// its own.
func WithHooks(hooks Hooks) Option {
	return &baseOptionImpl{func(opts *baseOptions) error {
		opts.hooks = hooks
		return nil
	}}
}

// WithInit adds a function called once the Base is connected and subscribed,
// before the constructor returns. A non-nil error closes the Base, and is
// returned by the constructor. May be provided multiple times, and they will
// be called in order.
func WithInit(fn func(b *Base) error) Option {
	return &baseOptionImpl{func(opts *baseOptions) error {
		if fn != nil {
			opts.init = append(opts.init, fn)
		}
		return nil
	}}
}

// WithWakeInterval configures the maximum duration Run blocks waiting for
// readiness, before re-checking for cancellation and reconnection. Defaults
// to 1s.
func WithWakeInterval(d time.Duration) Option {
	return &baseOptionImpl{func(opts *baseOptions) error {
		if d <= 0 {
			return fmt.Errorf(`%w: wake interval %s`, ErrInvalidInterval, d)
		}
		opts.wakeInterval = d
		return nil
	}}
}

// WithProtocolErrorPolicy configures the handling of malformed frames.
func WithProtocolErrorPolicy(policy ProtocolErrorPolicy) Option {
	return &baseOptionImpl{func(opts *baseOptions) error {
		switch policy {
		case DropProtocolErrors, FailOnProtocolError:
		default:
			return fmt.Errorf(`statemon: invalid protocol error policy: %d`, policy)
		}
		opts.protocolPolicy = policy
		return nil
	}}
}

// WithReconnect configures the exponential backoff between reconnection
// attempts, after a transport failure. Passing zero for both disables
// reconnection, and Run will fail with the *TransportError. Defaults to
// 100ms and 10s.
func WithReconnect(minimum, maximum time.Duration) Option {
	return &baseOptionImpl{func(opts *baseOptions) error {
		if minimum == 0 && maximum == 0 {
			opts.reconnectMin, opts.reconnectMax = 0, 0
			return nil
		}
		if minimum <= 0 || maximum < minimum {
			return fmt.Errorf(`%w: reconnect backoff %s to %s`, ErrInvalidInterval, minimum, maximum)
		}
		opts.reconnectMin, opts.reconnectMax = minimum, maximum
		return nil
	}}
}

// WithReconnectRates configures the sliding window limits, on reconnection
// attempts, using the same format as catrate.NewLimiter. A nil or empty map
// disables rate limiting. Defaults to 1/s and 20/min.
func WithReconnectRates(rates map[time.Duration]int) Option {
	return &baseOptionImpl{func(opts *baseOptions) error {
		if len(rates) != 0 {
			if _, err := newLimiter(rates); err != nil {
				return err
			}
		}
		opts.reconnectRates = rates
		return nil
	}}
}

// resolveBaseOptions applies Option instances to baseOptions.
func resolveBaseOptions(options []Option) (*baseOptions, error) {
	cfg := &baseOptions{
		wakeInterval:   defaultWakeInterval,
		reconnectMin:   defaultReconnectMin,
		reconnectMax:   defaultReconnectMax,
		reconnectRates: defaultReconnectRates(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.applyBase(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.hooks == nil {
		cfg.hooks = NopHooks{}
	}
	return cfg, nil
}

// newLimiter converts the panic catrate.NewLimiter raises on invalid rates
// into an error.
func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf(`statemon: invalid reconnect rates: %v`, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}
