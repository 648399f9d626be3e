package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいメッセージを生成する。
// payloadにはJSONにシリアライズ可能な値を渡す。
func New(topic Topic, payload any, now time.Time) (*Message, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("イベントペイロードのシリアライズに失敗: %w", err)
	}

	return &Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   jsonData,
		Timestamp: now.UTC(),
	}, nil
}

// DecodePayload はメッセージのPayloadを指定された型にデシリアライズする。
func DecodePayload[T any](m *Message) (*T, error) {
	var data T
	if err := json.Unmarshal(m.Payload, &data); err != nil {
		return nil, fmt.Errorf("イベントペイロードのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
