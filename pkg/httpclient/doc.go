// Package httpclient はGatewayからバックエンドサービスを呼び出すクライアントを提供する。
//
// 1回の呼び出しにつき1リクエストを送信し、成功時はJSONボディを、
// 失敗時はバックエンドのエラーメッセージを抽出した*Errorを返す。
package httpclient
