// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は通知テンプレートに埋め込む変数値をサニタイズし、
// プッシュ通知経由のXSSやマークアップ混入からユーザーを保護する。
// bluemondayのStrictPolicyを使用し、全てのHTMLタグと属性を除去して
// プレーンテキストのみを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は通知本文に埋め込むテキストのサニタイズ機能の
// インターフェースを定義する。テンプレート変数の展開前に使用される。
type ContentSanitizerService interface {
	// Sanitize は入力テキストから全てのHTMLタグと属性を除去して返す。
	// 店舗名など外部プラットフォーム由来の値に含まれるマークアップを
	// 無害化する。空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 通知はプレーンテキストとして配信されるため、タグを一切許可しない
// StrictPolicyを採用する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力テキストから全てのHTMLタグと属性を除去して返す。
func (s *contentSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
