package middleware

import (
	"crypto/subtle"

	"github.com/valyala/fasthttp"
)

// APIKeyAuth validates the X-Api-Key header against the configured static
// key. With no key configured the middleware is a passthrough, which keeps
// local development friction-free.
func APIKeyAuth(apiKey string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		if apiKey == "" {
			return next
		}
		return func(ctx *fasthttp.RequestCtx) {
			got := ctx.Request.Header.Peek("X-Api-Key")
			if len(got) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("missing X-Api-Key header")
				return
			}
			if subtle.ConstantTimeCompare(got, []byte(apiKey)) != 1 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid API key")
				return
			}
			next(ctx)
		}
	}
}
