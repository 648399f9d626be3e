// Package event はGatewayがブローカーに送信する監査イベントの型を定義する。
package event
