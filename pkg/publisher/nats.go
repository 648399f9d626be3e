package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/nao1215/shopgate/pkg/event"
)

// natsConnection は*nats.Connのうち使用するメソッド。
type natsConnection interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	IsClosed() bool
	Close()
}

// natsConnector はNATSサーバーへの接続を確立する関数。
type natsConnector func(url string) (natsConnection, error)

// connectNATS はnats.goで接続する既定のコネクター。
// 切断時の再接続はnats.goに任せる。
func connectNATS(url string) (natsConnection, error) {
	nc, err := nats.Connect(url,
		nats.Name("shopgate"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

// NATSSink はNATSにメッセージを送信するSink。トピック名をサブジェクトとして使う。
type NATSSink struct {
	// url はNATSサーバーの接続URL。
	url string
	// connect は接続を確立する関数。
	connect natsConnector

	// mu はconnを保護する。
	mu   sync.Mutex
	conn natsConnection
}

// NewNATSSink はNATSSinkを生成する。接続は最初の送信時に確立する。
func NewNATSSink(url string) *NATSSink {
	return &NATSSink{url: url, connect: connectNATS}
}

// Send はメッセージをトピック名のサブジェクトに送信する。
func (s *NATSSink) Send(ctx context.Context, msg *event.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		conn, err := s.connect(s.url)
		if err != nil {
			brokerConnects.WithLabelValues("nats", "failure").Inc()
			return fmt.Errorf("NATSへの接続に失敗: %w", err)
		}
		brokerConnects.WithLabelValues("nats", "success").Inc()
		s.conn = conn
	}

	m := nats.NewMsg(string(msg.Topic))
	m.Header.Set(nats.MsgIdHdr, msg.ID)
	m.Header.Set("Content-Type", "application/json")
	m.Data = msg.Payload

	if err := s.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("メッセージの送信に失敗: %w", err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("メッセージのフラッシュに失敗: %w", err)
	}
	return nil
}

// Close は接続を閉じる。
func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
