// Package publisher はGatewayの監査イベントをメッセージブローカーへ非同期に送信する。
//
// Publishは呼び出し元をブロックせず、結果も返さない。送信は単一のワーカーgoroutineが
// 共有のブローカー接続（Sink）を使って順に行う。バッファが満杯の場合は新しいイベントを
// 破棄する。送信の失敗はログとメトリクスに記録されるだけで、呼び出し元には伝播しない。
package publisher
