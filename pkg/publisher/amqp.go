package publisher

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nao1215/shopgate/pkg/event"
)

// amqpConnection は*amqp.Connectionのうち使用するメソッド。
type amqpConnection interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

// amqpChannel は*amqp.Channelのうち使用するメソッド。
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// amqpDialer はブローカーへの接続を確立する関数。
type amqpDialer func(url string) (amqpConnection, error)

// connAdapter は*amqp.ConnectionをamqpConnectionに適合させる。
type connAdapter struct {
	*amqp.Connection
}

// Channel は新しいチャネルを開く。
func (c connAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// dialAMQP はamqp091-goで接続する既定のダイヤラー。
func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return connAdapter{Connection: conn}, nil
}

// AMQPSink はRabbitMQにメッセージを送信するSink。
// 接続とチャネルは1つだけ保持して使い回し、失敗した場合は次の送信時に張り直す。
// トピックはデフォルトExchange経由で同名の非永続キューに配送される。
type AMQPSink struct {
	// url はブローカーの接続URL。
	url string
	// dial は接続を確立する関数。
	dial amqpDialer

	// mu は以下のフィールドを保護する。
	mu   sync.Mutex
	conn amqpConnection
	ch   amqpChannel
	// declared は現在のチャネルで宣言済みのキュー名。
	declared map[string]struct{}
}

// NewAMQPSink はAMQPSinkを生成する。接続は最初の送信時に確立する。
func NewAMQPSink(url string) *AMQPSink {
	return newAMQPSink(url, dialAMQP)
}

// newAMQPSink はダイヤラーを指定してAMQPSinkを生成する。
func newAMQPSink(url string, dial amqpDialer) *AMQPSink {
	return &AMQPSink{
		url:      url,
		dial:     dial,
		declared: make(map[string]struct{}),
	}
}

// Send はメッセージをトピック名のキューに送信する。
func (s *AMQPSink) Send(ctx context.Context, msg *event.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}

	queue := string(msg.Topic)
	if _, ok := s.declared[queue]; !ok {
		if _, err := ch.QueueDeclare(
			queue, // name
			false, // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			s.reset()
			return fmt.Errorf("キュー %q の宣言に失敗: %w", queue, err)
		}
		s.declared[queue] = struct{}{}
	}

	err = ch.PublishWithContext(ctx,
		"",    // exchange (default)
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   msg.ID,
			Timestamp:   msg.Timestamp,
			Type:        string(msg.Topic),
			Body:        msg.Payload,
		},
	)
	if err != nil {
		s.reset()
		return fmt.Errorf("メッセージの送信に失敗: %w", err)
	}
	return nil
}

// channel は利用可能なチャネルを返す。必要なら接続とチャネルを張り直す。
// 呼び出し元がmuを保持していること。
func (s *AMQPSink) channel() (amqpChannel, error) {
	if s.conn == nil || s.conn.IsClosed() {
		s.reset()
		conn, err := s.dial(s.url)
		if err != nil {
			brokerConnects.WithLabelValues("amqp", "failure").Inc()
			return nil, fmt.Errorf("ブローカーへの接続に失敗: %w", err)
		}
		brokerConnects.WithLabelValues("amqp", "success").Inc()
		s.conn = conn
	}

	if s.ch == nil || s.ch.IsClosed() {
		ch, err := s.conn.Channel()
		if err != nil {
			s.reset()
			return nil, fmt.Errorf("チャネルのオープンに失敗: %w", err)
		}
		s.ch = ch
		s.declared = make(map[string]struct{})
	}
	return s.ch, nil
}

// reset は現在の接続を破棄する。次回のSendで張り直される。
// 呼び出し元がmuを保持していること。
func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.declared = make(map[string]struct{})
}

// Close はチャネルと接続を閉じる。
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.ch != nil {
		err = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.conn = nil
	}
	return err
}
