package publisher

import "fmt"

// ブローカーの種類。
const (
	// BrokerAMQP はRabbitMQ等のAMQP 0-9-1ブローカーを表す。
	BrokerAMQP = "amqp"
	// BrokerNATS はNATSを表す。
	BrokerNATS = "nats"
)

// NewSink はブローカーの種類に応じたSinkを生成する。
func NewSink(broker, url string) (Sink, error) {
	switch broker {
	case BrokerAMQP:
		return NewAMQPSink(url), nil
	case BrokerNATS:
		return NewNATSSink(url), nil
	default:
		return nil, fmt.Errorf("未対応のブローカー: %q", broker)
	}
}
