// Package api はHTTP APIの定義を提供します。
//
// openapi.yaml を埋め込み、kin-openapi で読み込んで検証します。
// ServerInterface は定義の各オペレーションに対応し、
// RegisterHandlersWithOptions が gin のルーターへ登録します。
//
// デバイスを操作するオペレーションには x-requires-device 拡張を付けます。
// サーバー側のガードはこの拡張を見て 503 を返すかどうかを決めます。
package api
