package stream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// マルチパートの定数
const (
	Boundary        = "frame"
	ContentType     = "multipart/x-mixed-replace; boundary=" + Boundary
	ContentTypeJPEG = "image/jpeg"
	ContentTypeText = "text/plain"
)

// Part はマルチパートの1パート
type Part struct {
	ContentType string
	Body        []byte
}

// JPEGPart はフレームのパートを作成する
func JPEGPart(frame []byte) Part {
	return Part{ContentType: ContentTypeJPEG, Body: frame}
}

// TextPart はエラーメッセージのパートを作成する
func TextPart(message string) Part {
	return Part{ContentType: ContentTypeText, Body: []byte(message)}
}

// IsError はエラーパートかどうかを返す
func (p Part) IsError() bool {
	return p.ContentType == ContentTypeText
}

// PartWriter はパートの書き込み先
type PartWriter interface {
	WritePart(p Part) error
}

// MultipartWriter は --frame 区切りのマルチパートを書き込む
// w が http.Flusher を実装していればパートごとにフラッシュする
type MultipartWriter struct {
	w       io.Writer
	flusher http.Flusher
	buf     bytes.Buffer
}

// NewMultipartWriter は新しい MultipartWriter を作成する
func NewMultipartWriter(w io.Writer) *MultipartWriter {
	mw := &MultipartWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		mw.flusher = f
	}
	return mw
}

// WritePart は1パートを書き込む
//
//	--frame\r\n
//	Content-Type: image/jpeg\r\n
//	\r\n
//	<body>\r\n
func (m *MultipartWriter) WritePart(p Part) error {
	m.buf.Reset()
	fmt.Fprintf(&m.buf, "--%s\r\nContent-Type: %s\r\n\r\n", Boundary, p.ContentType)
	m.buf.Write(p.Body)
	m.buf.WriteString("\r\n")

	if _, err := m.w.Write(m.buf.Bytes()); err != nil {
		return fmt.Errorf("パートの書き込みに失敗: %w", err)
	}

	if m.flusher != nil {
		m.flusher.Flush()
	}
	return nil
}
