package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/shopgate/pkg/event"
)

// DefaultBufferSize はワーカーが処理待ちにできるイベント数の既定値。
const DefaultBufferSize = 256

// DefaultPublishTimeout は1件の送信に許す時間の既定値。
const DefaultPublishTimeout = 5 * time.Second

// Publisher はイベントを非同期に送信するコンポーネント。
type Publisher interface {
	// Publish はイベントを送信キューに積んで即座に返る。結果は観測できない。
	Publish(topic event.Topic, payload any)
	// Close は新規の受付を止め、ctxの期限まで残りのイベントを送信してから接続を閉じる。
	Close(ctx context.Context) error
}

// Sink はブローカーへの接続を所有し、1件ずつメッセージを送信する。
// Dispatcherのワーカーからのみ呼ばれるため、Sendが並行に呼ばれることはない。
type Sink interface {
	// Send はメッセージをブローカーに送信する。
	Send(ctx context.Context, msg *event.Message) error
	// Close はブローカー接続を解放する。
	Close() error
}

// Dispatcher はバッファ付きキューと単一のワーカーgoroutineでSinkに送信するPublisher。
type Dispatcher struct {
	// sink は送信先ブローカー。
	sink Sink
	// logger は送信失敗等を記録するロガー。
	logger *slog.Logger
	// queue は送信待ちのメッセージ。
	queue chan *event.Message
	// publishTimeout は1件の送信に許す時間。
	publishTimeout time.Duration
	// now は現在時刻を返す関数。
	now func() time.Time

	// mu はclosedとqueueのクローズを保護する。
	mu     sync.RWMutex
	closed bool
	// done はワーカーが終了したときに閉じられる。
	done chan struct{}
}

// Option はDispatcherの生成オプション。
type Option func(*Dispatcher)

// WithBufferSize はキューの容量を設定する。1未満の値は無視する。
func WithBufferSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan *event.Message, n)
		}
	}
}

// WithPublishTimeout は1件の送信に許す時間を設定する。
func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock は時刻の取得方法を差し替える。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher はDispatcherを生成し、ワーカーgoroutineを開始する。
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:           sink,
		logger:         slog.Default(),
		queue:          make(chan *event.Message, DefaultBufferSize),
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

// Publish はイベントをキューに積む。キューが満杯の場合はそのイベントを破棄する。
func (d *Dispatcher) Publish(topic event.Topic, payload any) {
	msg, err := event.New(topic, payload, d.now())
	if err != nil {
		eventsDropped.WithLabelValues(dropReasonEncode).Inc()
		d.logger.Error("event encode failed", slog.String("topic", string(topic)), slog.Any("error", err))
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		eventsDropped.WithLabelValues(dropReasonClosed).Inc()
		d.logger.Warn("event dropped: publisher closed", slog.String("topic", string(topic)), slog.String("event_id", msg.ID))
		return
	}

	select {
	case d.queue <- msg:
		eventsQueued.Inc()
	default:
		eventsDropped.WithLabelValues(dropReasonBufferFull).Inc()
		d.logger.Warn("event dropped: buffer full",
			slog.String("topic", string(topic)),
			slog.String("event_id", msg.ID),
			slog.Int("capacity", cap(d.queue)),
		)
	}
}

// Close は新規の受付を止め、キューに残ったイベントの送信完了を待ってからSinkを閉じる。
// ctxの期限までに送信が終わらない場合はctx.Err()を返す。
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	var waitErr error
	select {
	case <-d.done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("未送信のイベントを残して終了: %w", ctx.Err())
	}

	if err := d.sink.Close(); err != nil {
		return errors.Join(waitErr, fmt.Errorf("ブローカー接続のクローズに失敗: %w", err))
	}
	return waitErr
}

// run はキューが閉じられるまでメッセージを1件ずつ送信する。
func (d *Dispatcher) run() {
	defer close(d.done)

	for msg := range d.queue {
		eventsQueued.Dec()
		d.send(msg)
	}
}

// send は1件のメッセージを送信する。失敗とパニックは記録するだけで外へは伝播させない。
func (d *Dispatcher) send(msg *event.Message) {
	topic := string(msg.Topic)
	defer func() {
		if r := recover(); r != nil {
			eventsFailed.WithLabelValues(topic).Inc()
			d.logger.Error("event publish panicked", slog.String("topic", topic), slog.String("event_id", msg.ID), slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
	defer cancel()

	if err := d.sink.Send(ctx, msg); err != nil {
		eventsFailed.WithLabelValues(topic).Inc()
		d.logger.Error("event publish failed", slog.String("topic", topic), slog.String("event_id", msg.ID), slog.Any("error", err))
		return
	}
	eventsPublished.WithLabelValues(topic).Inc()
	d.logger.Debug("event published", slog.String("topic", topic), slog.String("event_id", msg.ID))
}

// Nop はイベント送信が無効な場合に使うPublisher。すべてのイベントを黙って捨てる。
type Nop struct{}

// Publish は何もしない。
func (Nop) Publish(event.Topic, any) {}

// Close は何もしない。
func (Nop) Close(context.Context) error { return nil }
