package cluster

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/metrics"
	"golang.org/x/sync/errgroup"
)

// Network delivers a message to its recipient, blocking until it was accepted.
type Network interface {
	Deliver(ctx context.Context, msg *api.ClusterMessage) error
}

type DispatcherConfig struct {
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

var DefaultDispatcherConfig = DispatcherConfig{
	Workers:         8,
	QueueSize:       1024,
	DeliveryTimeout: 10 * time.Second,
}

// Dispatcher queues outgoing messages and delivers them from a pool of workers.
type Dispatcher struct {
	network Network
	cfg     DispatcherConfig
	queue   chan *api.ClusterMessage
	log     *slog.Logger
}

func NewDispatcher(network Network, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDispatcherConfig.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig.QueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDispatcherConfig.DeliveryTimeout
	}
	return &Dispatcher{
		network: network,
		cfg:     cfg,
		queue:   make(chan *api.ClusterMessage, cfg.QueueSize),
		log:     log,
	}
}

// Send queues msg without blocking.
func (d *Dispatcher) Send(msg *api.ClusterMessage) error {
	select {
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is done. Messages which cannot be
// delivered are reported through onError.
func (d *Dispatcher) Run(ctx context.Context, onError func(msg *api.ClusterMessage, err error)) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case msg := <-d.queue:
					d.deliver(ctx, msg, onError)
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, msg *api.ClusterMessage, onError func(msg *api.ClusterMessage, err error)) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	if err := d.network.Deliver(ctx, msg); err != nil {
		metrics.DeliveryFailed()
		d.log.Warn("could not deliver message", "msg", msg.String(), "err", err)
		if onError != nil {
			onError(msg, err)
		}
		return
	}
	metrics.MessageSent(string(msg.Kind))
}
