package reversechat

import (
	"net/http"

	"github.com/google/uuid"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// applyBrowserHeaders sets the cookie, the user agent, a fixed set of Chrome
// client hints and a request id on req, impersonating the browser session
// the backend's own web client would present. The client hints are constant
// values and are not derived from the user agent; the request id is a new
// random UUID on every call, so it is not deterministic.
func applyBrowserHeaders(req *http.Request, secret secretMaterial, origin string) {
	req.Header.Set("Cookie", secret.Cookie)
	req.Header.Set("User-Agent", secret.UserAgent)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-CH-UA", `"Chromium";v="131", "Google Chrome";v="131"`)
	req.Header.Set("Sec-CH-UA-Mobile", "?0")
	req.Header.Set("Sec-CH-UA-Platform", `"Linux"`)
	req.Header.Set("X-Request-Id", uuid.New().String())
	req.Header.Set("Origin", origin)
}
