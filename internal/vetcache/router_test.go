package vetcache

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	rt := NewRouter(testConfig().Cache)

	tests := []struct {
		method string
		target string
		dest   string
		want   Route
	}{
		{http.MethodPost, "/api/khach-hang", "", RoutePassThrough},
		{http.MethodPut, "/static/app.js", "", RoutePassThrough},
		{http.MethodGet, "/api/khach-hang", "", RouteAPI},
		{http.MethodGet, "/api/khach-hang/12?include=pets", "", RouteAPI},
		{http.MethodGet, "/api/lich-tai-kham", "", RouteAPI},
		{http.MethodGet, "/api/stats/monthly", "", RouteAPI},
		{http.MethodGet, "/api/auth/session", "", RouteNetworkOnly},
		{http.MethodGet, "/api/uploads/x.png", "", RouteNetworkOnly},
		{http.MethodGet, "/uploads/cat.JPG", "", RouteImage},
		{http.MethodGet, "/img/logo.svg", "", RouteImage},
		{http.MethodGet, "/_next/image?url=%2Fa", "image", RouteImage},
		{http.MethodGet, "/_next/static/chunks/main.js", "", RouteStatic},
		{http.MethodGet, "/static/data.json", "", RouteStatic},
		{http.MethodGet, "/fonts/inter.woff2", "", RouteStatic},
		{http.MethodGet, "/styles.CSS", "", RouteStatic},
		{http.MethodGet, "/", "", RouteNetworkFirst},
		{http.MethodGet, "/admin/dashboard", "", RouteNetworkFirst},
		{http.MethodGet, "/manifest.json", "", RouteNetworkFirst},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.dest != "" {
				r.Header.Set("Sec-Fetch-Dest", tt.dest)
			}
			assert.Equal(t, tt.want, rt.Classify(r), "got %s", rt.Classify(r))
		})
	}
}

func TestClassifySchemes(t *testing.T) {
	rt := NewRouter(testConfig().Cache)

	ext, err := http.NewRequest(http.MethodGet, "chrome-extension://abcdef/static/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, RoutePassThrough, rt.Classify(ext))

	abs, err := http.NewRequest(http.MethodGet, "https://clinic.example/api/tinh", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteAPI, rt.Classify(abs))

	tlsReq := httptest.NewRequest(http.MethodGet, "/static/app.js", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https", requestScheme(tlsReq))
	assert.Equal(t, RouteStatic, rt.Classify(tlsReq))
}

func TestRequestKeyKeepsQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/xa?huyen=7", nil)
	assert.Equal(t, "/api/xa?huyen=7", requestKey(r))
}
