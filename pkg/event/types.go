package event

import (
	"encoding/json"
	"time"
)

// Topic はイベントの送信先トピック（キュー名）を表す。
type Topic string

const (
	// TopicUserList はユーザー一覧が参照されたことを表す。
	TopicUserList Topic = "user-list"
	// TopicUserDetails はユーザー詳細が参照されたことを表す。
	TopicUserDetails Topic = "user-details"
	// TopicUserCreation はユーザーが作成されたことを表す。
	TopicUserCreation Topic = "user-creation"
	// TopicUserUpdate はユーザーが更新されたことを表す。
	TopicUserUpdate Topic = "user-update"
	// TopicUserDeletion はユーザーが削除されたことを表す。
	TopicUserDeletion Topic = "user-deletion"

	// TopicUserTickets はチケットの作成または参照を表す。
	TopicUserTickets Topic = "user-tickets"
	// TopicProductTickets は商品に紐づくチケットが参照されたことを表す。
	TopicProductTickets Topic = "product-tickets"

	// TopicProductDetails は商品詳細が参照されたことを表す。
	TopicProductDetails Topic = "product-details"
	// TopicProductList は商品一覧が参照されたことを表す。
	TopicProductList Topic = "product-list"
	// TopicProductCategory はカテゴリ別の商品一覧が参照されたことを表す。
	TopicProductCategory Topic = "product-category"
	// TopicProductCreation は商品が作成されたことを表す。
	TopicProductCreation Topic = "product-creation"
	// TopicProductUpdate は商品が更新されたことを表す。
	TopicProductUpdate Topic = "product-update"

	// TopicLoginAttempt はログインが試行されたことを表す。
	TopicLoginAttempt Topic = "login-attempt"
)

// Message はブローカーに送信する監査イベント。
// Forwarderが生成し、送信の試行が終わった時点で破棄される。
type Message struct {
	// ID はメッセージの一意識別子（UUID）。
	ID string `json:"id"`
	// Topic は送信先トピック。
	Topic Topic `json:"topic"`
	// Payload はイベント固有のデータ（JSON形式）。ブローカーにはこの値がボディとして送られる。
	Payload json.RawMessage `json:"payload"`
	// Timestamp はメッセージが生成された日時。
	Timestamp time.Time `json:"timestamp"`
}
