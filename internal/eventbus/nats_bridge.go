package eventbus

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher 由 *nats.Conn 实现
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge 把总线上的每个主题转发到 <prefix>.event.<topic>
type NATSBridge struct {
	bus    *Bus
	pub    Publisher
	prefix string
	ids    map[Topic]string
}

// NewNATSBridge creates a bridge; call Start to attach it to the bus
func NewNATSBridge(bus *Bus, pub Publisher, prefix string) *NATSBridge {
	if prefix == "" {
		prefix = "bbu"
	}
	return &NATSBridge{
		bus:    bus,
		pub:    pub,
		prefix: prefix,
		ids:    make(map[Topic]string),
	}
}

// Subject returns the NATS subject for a topic
func (n *NATSBridge) Subject(topic Topic) string {
	return fmt.Sprintf("%s.event.%s", n.prefix, topic)
}

// Start subscribes the bridge to every topic
func (n *NATSBridge) Start() {
	for _, topic := range Topics {
		n.ids[topic] = n.bus.Subscribe(topic, n.forward)
	}
	log.Info().Str("prefix", n.prefix).Int("topics", len(Topics)).Msg("NATS event bridge started")
}

// Stop detaches the bridge
func (n *NATSBridge) Stop() {
	for topic, id := range n.ids {
		n.bus.Unsubscribe(topic, id)
	}
	n.ids = make(map[Topic]string)
}

func (n *NATSBridge) forward(topic Topic, payload []byte) error {
	err := n.pub.Publish(n.Subject(topic), payload)
	if errors.Is(err, nats.ErrConnectionClosed) {
		return ErrSubscriberGone
	}
	return err
}
