// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// ユーザー管理、サポートチケット、商品カタログの3つのバックエンドサービスの前段に立ち、
// Bearerトークンによる認証、宣言的なルートテーブルに基づくリクエスト転送、
// 成功した操作ごとの監査イベント送信を担当する。クライアントからはバックエンドの
// 構成は見えない。
package gateway
