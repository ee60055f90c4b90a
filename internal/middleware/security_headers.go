package middleware

import "net/http"

// NewSecurityHeadersMiddleware は全レスポンスにセキュリティヘッダーを付与する
// ミドルウェアを返す。ブラウザUIは持たないAPIだが、/wsを直接開く
// クライアントもいるため最低限のヘッダーは常に返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}
