package router

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	offlineStaticBody = "Offline: this resource is not available right now."
	offlineAPIMessage = "The dashboard is offline and no cached data is available for this request."
)

const offlineDocument = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
</head>
<body>
<h1>You are offline</h1>
<p>The dashboard cannot reach the network. Cached pages stay available; reload once the connection is back.</p>
</body>
</html>
`

// OfflineStatic is the 503 placeholder for static assets.
func OfflineStatic(req *http.Request, now time.Time) *http.Response {
	return placeholder(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte(offlineStaticBody), now)
}

// OfflineAPI is the 503 JSON placeholder for API resources.
func OfflineAPI(req *http.Request, now time.Time) *http.Response {
	body, _ := json.Marshal(map[string]string{
		"error":   "offline",
		"message": offlineAPIMessage,
	})
	return placeholder(req, http.StatusServiceUnavailable, "application/json", body, now)
}

// OfflineDocument is the HTML page served to navigations with no network
// and no cache.
func OfflineDocument(req *http.Request, now time.Time) *http.Response {
	return placeholder(req, http.StatusOK, "text/html; charset=utf-8", []byte(offlineDocument), now)
}

func placeholder(req *http.Request, status int, contentType string, body []byte, now time.Time) *http.Response {
	c := &CachedResponse{
		StatusCode: status,
		Header: http.Header{
			"Content-Type":  {contentType},
			"Cache-Control": {"no-store"},
			"Date":          {now.UTC().Format(http.TimeFormat)},
		},
		Body: body,
	}
	resp := c.Response(req)
	resp.Header.Set(HeaderSource, SourceOffline)
	return resp
}
