// Package server は、HTTPサーバーとカメラAPIのハンドラを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// カメラ操作のリクエスト処理、ライブ映像の配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - api.ServerInterface の実装
//   - デバイスが利用不可の間の 503 応答
//   - エラーからHTTPステータスへの対応付け
//   - マルチパート配信（/stream）
//
// 仕様:
//   - ルーティングは gin、CORS は gin-contrib/cors を使用
//   - アクセスログは zap に出力し、リクエストごとに X-Request-ID を付与
//   - シャットダウン時は配信中のセッションを終了させてからデバイスを解放
//   - エラーレスポンスは {success:false, message} に統一
package server
