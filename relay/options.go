package relay

import (
	"github.com/joeycumines/logiface"
	"github.com/jrtomps/go-statemon/statemon"
)

// relayOptions holds configuration options for Monitor creation.
type relayOptions struct {
	logger         *logiface.Logger[logiface.Event]
	errorHandler   func(err error)
	monitorOptions []statemon.Option
}

// Option configures a Monitor.
type Option interface {
	applyRelay(*relayOptions) error
}

// relayOptionImpl implements Option.
type relayOptionImpl struct {
	applyRelayFunc func(*relayOptions) error
}

func (o *relayOptionImpl) applyRelay(opts *relayOptions) error {
	return o.applyRelayFunc(opts)
}

// WithLogger configures the structured logger, which is also passed to the
// underlying statemon.Monitor, unless overridden by WithMonitorOptions.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &relayOptionImpl{func(opts *relayOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithErrorHandler configures the host error channel, called on the host
// goroutine with an *ActionError, whenever an action fails. Defaults to
// logging the error.
func WithErrorHandler(handler func(err error)) Option {
	return &relayOptionImpl{func(opts *relayOptions) error {
		opts.errorHandler = handler
		return nil
	}}
}

// WithMonitorOptions adds options for the underlying statemon.Monitor.
func WithMonitorOptions(options ...statemon.Option) Option {
	return &relayOptionImpl{func(opts *relayOptions) error {
		opts.monitorOptions = append(opts.monitorOptions, options...)
		return nil
	}}
}

// resolveRelayOptions applies Option instances to relayOptions.
func resolveRelayOptions(options []Option) (*relayOptions, error) {
	cfg := &relayOptions{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.applyRelay(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
