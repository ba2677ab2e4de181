package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const indexHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Hitomi - ネットワークカメラ</title>
    <style>
        body { font-family: sans-serif; margin: 2em; background: #111; color: #eee; }
        img { max-width: 100%; border: 1px solid #444; }
        a { color: #8cf; }
    </style>
</head>
<body>
    <h1>Hitomi ネットワークカメラ</h1>
    <img src="/stream" alt="ライブ映像">
    <p>状態: <a href="/api/camera/status">/api/camera/status</a></p>
    <p>コントロール: <a href="/api/camera/controls">/api/camera/controls</a></p>
    <p>API定義: <a href="/api/openapi.json">/api/openapi.json</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`

// handleRoot はルートパスのハンドラ
func (h *Handler) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}
