// Package middleware はGatewayのGinルーターで使用するミドルウェアを提供する。
//
// Bearerトークンによる認証ゲート、トークンの発行と検証、リクエストID採番、
// 構造化リクエストログ、パニックリカバリ、CORS設定を含む。
package middleware
