package mq

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the topic exchange carrying record store change events.
// Routing keys are "records.<collection>.changed".
const ExchangeName = "tasksync.changes"

const heartbeat = 10 * time.Second

// NewConnection dials the broker. The connection is named after the running
// binary so api servers and terminal clients can be told apart in the
// management UI. Errors never include the URL's credentials.
func NewConnection(url string) (*amqp091.Connection, error) {
	uri, err := amqp091.ParseURI(url)
	if err != nil {
		return nil, fmt.Errorf("invalid RabbitMQ url: %w", err)
	}

	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Properties: amqp091.Table{
			"connection_name": connectionName(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ at %s:%d%s: %w", uri.Host, uri.Port, uri.Vhost, err)
	}
	return conn, nil
}

func connectionName() string {
	name := filepath.Base(os.Args[0])
	if host, err := os.Hostname(); err == nil {
		name += "@" + host
	}
	return name
}

// DeclareExchange declares the change exchange. It is durable so the outbox
// dispatcher can publish before any feed has bound a queue.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, amqp091.ExchangeTopic, true, false, false, false, nil)
}
