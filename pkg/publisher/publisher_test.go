package publisher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/shopgate/pkg/event"
)

// discardLogger はテスト用に出力を捨てるロガー。
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSink は送信されたメッセージを記録するSink。
type fakeSink struct {
	mu       sync.Mutex
	messages []*event.Message
	// sendErr がnilでなければSendはこのエラーを返す。
	sendErr error
	// block が閉じられるまでSendはブロックする。nilならブロックしない。
	block chan struct{}
	// panicOn のトピックではSendがパニックする。
	panicOn event.Topic
	// sent はSendが呼ばれるたびに通知される。
	sent   chan *event.Message
	closed bool
}

// newFakeSink はfakeSinkを生成する。
func newFakeSink() *fakeSink {
	return &fakeSink{sent: make(chan *event.Message, 100)}
}

func (f *fakeSink) Send(_ context.Context, msg *event.Message) error {
	if f.block != nil {
		<-f.block
	}
	if msg.Topic == f.panicOn && f.panicOn != "" {
		panic("sink panic")
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	err := f.sendErr
	f.mu.Unlock()
	f.sent <- msg
	return err
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// waitSent はSendが呼ばれるまで待つ。
func waitSent(t *testing.T, f *fakeSink) *event.Message {
	t.Helper()

	select {
	case msg := <-f.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Sendが呼ばれなかった")
		return nil
	}
}

// TestDispatcherPublish はDispatcherの送信を検証する。
func TestDispatcherPublish(t *testing.T) {
	t.Parallel()

	t.Run("Publishしたイベントがワーカーから送信されること", func(t *testing.T) {
		t.Parallel()

		sink := newFakeSink()
		now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
		d := NewDispatcher(sink, WithLogger(discardLogger), WithClock(func() time.Time { return now }))
		t.Cleanup(func() { _ = d.Close(context.Background()) })

		d.Publish(event.TopicUserDetails, map[string]string{"userId": "42"})

		msg := waitSent(t, sink)
		if msg.Topic != event.TopicUserDetails {
			t.Errorf("Topic = %q, want %q", msg.Topic, event.TopicUserDetails)
		}
		if string(msg.Payload) != `{"userId":"42"}` {
			t.Errorf("Payload = %s, want %s", msg.Payload, `{"userId":"42"}`)
		}
		if !msg.Timestamp.Equal(now) {
			t.Errorf("Timestamp = %v, want %v", msg.Timestamp, now)
		}
	})

	t.Run("送信の失敗は呼び出し元に伝播せずログに記録されること", func(t *testing.T) {
		t.Parallel()

		var buf syncBuffer
		sink := newFakeSink()
		sink.sendErr = errors.New("broker unreachable")
		d := NewDispatcher(sink, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

		d.Publish(event.TopicUserList, map[string]string{})
		waitSent(t, sink)

		if err := d.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if !strings.Contains(buf.String(), "event publish failed") || !strings.Contains(buf.String(), "broker unreachable") {
			t.Errorf("ログに送信失敗が記録されていない: %s", buf.String())
		}
	})

	t.Run("Sendがパニックしてもワーカーが処理を続けること", func(t *testing.T) {
		t.Parallel()

		sink := newFakeSink()
		sink.panicOn = event.TopicUserDeletion
		d := NewDispatcher(sink, WithLogger(discardLogger))
		t.Cleanup(func() { _ = d.Close(context.Background()) })

		d.Publish(event.TopicUserDeletion, nil)
		d.Publish(event.TopicUserUpdate, nil)

		msg := waitSent(t, sink)
		if msg.Topic != event.TopicUserUpdate {
			t.Errorf("Topic = %q, want %q", msg.Topic, event.TopicUserUpdate)
		}
	})

	t.Run("同じイベントを2回Publishすると2件送信されること", func(t *testing.T) {
		t.Parallel()

		sink := newFakeSink()
		d := NewDispatcher(sink, WithLogger(discardLogger))
		t.Cleanup(func() { _ = d.Close(context.Background()) })

		d.Publish(event.TopicProductList, map[string]string{})
		d.Publish(event.TopicProductList, map[string]string{})

		first := waitSent(t, sink)
		second := waitSent(t, sink)
		if first.ID == second.ID {
			t.Errorf("同じIDのメッセージが送信された: %q", first.ID)
		}
	})
}

// TestDispatcherBackpressure はキューが満杯の場合の破棄ポリシーを検証する。
func TestDispatcherBackpressure(t *testing.T) {
	t.Parallel()

	t.Run("キューが満杯の場合Publishはブロックせずイベントを破棄すること", func(t *testing.T) {
		t.Parallel()

		var buf syncBuffer
		sink := newFakeSink()
		sink.block = make(chan struct{})
		d := NewDispatcher(sink, WithBufferSize(1), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

		// 1件目はワーカーがSend内でブロックし、2件目がキューを埋める
		d.Publish(event.TopicUserList, 1)
		deadline := time.Now().Add(2 * time.Second)
		for len(d.queue) != 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		d.Publish(event.TopicUserList, 2)

		returned := make(chan struct{})
		go func() {
			d.Publish(event.TopicUserList, 3)
			close(returned)
		}()
		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("満杯のキューでPublishがブロックした")
		}

		close(sink.block)
		if err := d.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}

		sink.mu.Lock()
		got := len(sink.messages)
		sink.mu.Unlock()
		if got != 2 {
			t.Errorf("送信件数 = %d, want 2", got)
		}
		if !strings.Contains(buf.String(), "buffer full") {
			t.Errorf("ログに破棄が記録されていない: %s", buf.String())
		}
	})
}

// TestDispatcherClose はDispatcherのクローズを検証する。
func TestDispatcherClose(t *testing.T) {
	t.Parallel()

	t.Run("Closeはキューに残ったイベントを送信してからSinkを閉じること", func(t *testing.T) {
		t.Parallel()

		sink := newFakeSink()
		d := NewDispatcher(sink, WithLogger(discardLogger))
		for i := 0; i < 10; i++ {
			d.Publish(event.TopicProductUpdate, i)
		}

		if err := d.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}

		sink.mu.Lock()
		defer sink.mu.Unlock()
		if len(sink.messages) != 10 {
			t.Errorf("送信件数 = %d, want 10", len(sink.messages))
		}
		if !sink.closed {
			t.Error("Sinkが閉じられていない")
		}
	})

	t.Run("Close後のPublishは破棄されパニックしないこと", func(t *testing.T) {
		t.Parallel()

		sink := newFakeSink()
		d := NewDispatcher(sink, WithLogger(discardLogger))
		if err := d.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}

		d.Publish(event.TopicUserList, nil)
		if err := d.Close(context.Background()); err != nil {
			t.Errorf("2回目のClose()でエラーが発生: %v", err)
		}

		sink.mu.Lock()
		defer sink.mu.Unlock()
		if len(sink.messages) != 0 {
			t.Errorf("送信件数 = %d, want 0", len(sink.messages))
		}
	})

	t.Run("期限までに送信が終わらない場合はエラーが返ること", func(t *testing.T) {
		t.Parallel()

		sink := newFakeSink()
		sink.block = make(chan struct{})
		t.Cleanup(func() { close(sink.block) })
		d := NewDispatcher(sink, WithLogger(discardLogger))
		d.Publish(event.TopicUserList, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Close() error = %v, want context.DeadlineExceeded", err)
		}
	})
}

// TestNop はNopが何もしないことを検証する。
func TestNop(t *testing.T) {
	t.Parallel()

	var p Publisher = Nop{}
	p.Publish(event.TopicLoginAttempt, map[string]string{"email": "a@b.com"})
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("Close()でエラーが発生: %v", err)
	}
}

// TestNewSink はNewSinkを検証する。
func TestNewSink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		broker  string
		wantErr bool
	}{
		{broker: BrokerAMQP},
		{broker: BrokerNATS},
		{broker: "kafka", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.broker, func(t *testing.T) {
			t.Parallel()

			sink, err := NewSink(tt.broker, "url")
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSink(%q) error = %v, wantErr %v", tt.broker, err, tt.wantErr)
			}
			if !tt.wantErr && sink == nil {
				t.Error("Sinkがnil")
			}
		})
	}
}

// syncBuffer は並行書き込みに安全なbytes.Buffer。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
