// Package sink publishes fired trigger events to an external broker.
//
// Implementations register a factory by type name from an init function;
// New picks one using the [sink] section of the configuration.
package sink

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maxpert/redisfeed/cfg"
	"github.com/maxpert/redisfeed/telemetry"
)

// Sink is a destination for fired trigger events
type Sink interface {
	// Publish sends value to topic. Events with the same key keep their order.
	Publish(topic string, key string, value []byte) error
	Close() error
}

// Factory creates a Sink from configuration
type Factory func(cfg.SinkConfiguration) (Sink, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

// Register makes a sink type available to New
func Register(sinkType string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[sinkType] = factory
}

// Types lists the registered sink types
func Types() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds the configured sink wrapped with publish metrics
func New(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := factories[config.Type]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	s, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s sink: %w", config.Type, err)
	}
	return &instrumented{Sink: s, name: config.Type}, nil
}

type instrumented struct {
	Sink
	name string
}

func (i *instrumented) Publish(topic, key string, value []byte) error {
	err := i.Sink.Publish(topic, key, value)
	result := "success"
	if err != nil {
		result = "failure"
	}
	telemetry.SinkPublishTotal.With(i.name, result).Inc()
	return err
}
