package api

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

var (
	swaggerOnce sync.Once
	swagger     *openapi3.T
	swaggerErr  error
)

// GetSwagger は埋め込まれたAPI定義を読み込み、検証して返す
// 結果はプロセス内でキャッシュされる
func GetSwagger() (*openapi3.T, error) {
	swaggerOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(specYAML)
		if err != nil {
			swaggerErr = fmt.Errorf("API定義の読み込みに失敗: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			swaggerErr = fmt.Errorf("API定義の検証に失敗: %w", err)
			return
		}
		swagger = doc
	})
	return swagger, swaggerErr
}

// SpecJSON はAPI定義をJSONで返す
func SpecJSON() ([]byte, error) {
	doc, err := GetSwagger()
	if err != nil {
		return nil, err
	}
	return doc.MarshalJSON()
}

// SpecYAML は埋め込まれたAPI定義をそのまま返す
func SpecYAML() []byte {
	return specYAML
}
