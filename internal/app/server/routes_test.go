package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"subgate/internal/api/dto"
	"subgate/internal/auth"
	"subgate/internal/config"
	"subgate/internal/database"
	"subgate/internal/domain"
	"subgate/internal/netaddr"
	"subgate/internal/routing"
	"subgate/internal/subscription"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]subscription.Result
	blocked map[string]bool
	imports int
}

func (f *fakeFetcher) Check(rawURL string) error {
	if !netaddr.IsValidSubscriptionURL(rawURL) {
		return subscription.ErrInsecureURL
	}
	if f.blocked[rawURL] {
		return subscription.ErrBlockedSource
	}
	return nil
}

func (f *fakeFetcher) Import(_ context.Context, rawURL string) (subscription.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports++
	res, ok := f.results[rawURL]
	if !ok {
		return subscription.Result{}, fmt.Errorf("%w: 404", subscription.ErrUnexpectedStatus)
	}
	return res, nil
}

type staticRoutes struct{ router *routing.Router }

func (s staticRoutes) Router() (*routing.Router, error) { return s.router, nil }

type testServer struct {
	handler http.Handler
	fetcher *fakeFetcher
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	auth.SetSecret("server-test-secret")
	t.Cleanup(func() { auth.SetSecret("") })
	token, err := auth.IssueToken("tester", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if _, err := database.SetupDB(database.WithExistingDB(db)); err != nil {
		t.Fatalf("setup database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		database.DB = nil
	})

	orig := config.GetConfig()
	config.SetSettingsPath(filepath.Join(t.TempDir(), "settings.json"))
	t.Cleanup(func() {
		_ = config.SetConfig(orig)
		config.SetSettingsPath(config.DefaultSettingsPath)
	})

	router, err := routing.NewRouter([]routing.Rule{
		{Outbound: routing.ActionDirect, IP: []string{"geoip:private"}},
		{Outbound: routing.ActionBlock, Domain: []string{"domain:ads.example"}},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	fetcher := &fakeFetcher{
		results: map[string]subscription.Result{
			"https://sub.example/a": {
				Format: subscription.FormatShareLinks,
				Nodes: []subscription.Node{
					{Protocol: "ss", Host: "1.2.3.4", Port: 8388, HostKind: netaddr.KindIPv4},
					{Protocol: "trojan", Host: "node.example.org", Port: 443, HostKind: netaddr.KindDomain},
				},
			},
		},
		blocked: map[string]bool{"https://blocked.example/sub": true},
	}

	return &testServer{
		handler: NewHandler(Deps{
			Fetcher:   fetcher,
			Routes:    staticRoutes{router: router},
			BuildInfo: config.BuildInfo{ApplicationID: "com.v2ray.ang", Channel: config.ChannelPlayStore},
			Workers:   2,
		}),
		fetcher: fetcher,
		token:   token,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestVersionIsPublic(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got := decodeBody[map[string]any](t, rec)
	if got["buildVersion"] != "dev" || got["xray"] != true || got["googleFlavor"] != true {
		t.Fatalf("version = %v", got)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/address/classify", "/payload/decode", "/route", "/subscriptions"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, rec.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/subscriptions", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestClassifyAddress(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		value string
		want  dto.AddressInfo
	}{
		{"192.168.1.1:8080", dto.AddressInfo{Kind: netaddr.KindIPv4, IPAddress: true, Domain: true, ValidURL: true, Unwrapped: "192.168.1.1"}},
		{"10.0.0.1", dto.AddressInfo{Kind: netaddr.KindIPv4, IPAddress: true, PureIP: true, ValidURL: true, Unwrapped: "10.0.0.1"}},
		{"example.com", dto.AddressInfo{Kind: netaddr.KindDomain, Domain: true, ValidURL: true}},
		{"https://dns.example/dns-query", dto.AddressInfo{Kind: netaddr.KindDomain, Domain: true, ValidURL: true, CoreDNS: true}},
		{"", dto.AddressInfo{Kind: netaddr.KindNone}},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/address/classify", dto.AddressRequest{Value: tt.value})
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			got := decodeBody[dto.AddressInfo](t, rec)
			tt.want.Value = tt.value
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCheckCIDR(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		ip, cidr string
		want     bool
	}{
		{"192.168.1.10", "192.168.1.0/24", true},
		{"192.168.2.10", "192.168.1.0/24", false},
		{"2001:db8::1", "2001:db8::/32", false},
	}
	for _, tt := range tests {
		rec := s.do(t, http.MethodPost, "/address/cidr", dto.CIDRRequest{IP: tt.ip, CIDR: tt.cidr})
		if got := decodeBody[dto.CIDRResult](t, rec); got.InRange != tt.want {
			t.Errorf("cidr(%s, %s) = %v, want %v", tt.ip, tt.cidr, got.InRange, tt.want)
		}
	}
}

func TestCheckSubscriptionURL(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		url  string
		want dto.SubscriptionURLResult
	}{
		{"https://sub.example/a", dto.SubscriptionURLResult{Valid: true}},
		{"http://127.0.0.1:2017/sub", dto.SubscriptionURLResult{Valid: true}},
		{"http://sub.example/a", dto.SubscriptionURLResult{}},
		{"https://blocked.example/sub", dto.SubscriptionURLResult{Reason: "blacklisted"}},
	}
	for _, tt := range tests {
		rec := s.do(t, http.MethodPost, "/address/subscription-url", dto.SubscriptionURLRequest{URL: tt.url})
		if got := decodeBody[dto.SubscriptionURLResult](t, rec); got != tt.want {
			t.Errorf("%s = %+v, want %+v", tt.url, got, tt.want)
		}
	}
}

func TestPayloadRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path string
		req  dto.PayloadRequest
		want string
	}{
		{"/payload/encode", dto.PayloadRequest{Text: "hello"}, "aGVsbG8="},
		{"/payload/encode", dto.PayloadRequest{Text: "hello", RemovePadding: true}, "aGVsbG8"},
		{"/payload/decode", dto.PayloadRequest{Text: "aGVsbG8"}, "hello"},
		{"/payload/decode", dto.PayloadRequest{Text: "!!!"}, ""},
		{"/payload/url-encode", dto.PayloadRequest{Text: "a b+c"}, "a%20b%2Bc"},
		{"/payload/url-decode", dto.PayloadRequest{Text: "a+b%20c"}, "a b c"},
	}
	for _, tt := range tests {
		rec := s.do(t, http.MethodPost, tt.path, tt.req)
		if got := decodeBody[dto.PayloadResult](t, rec); got.Text != tt.want {
			t.Errorf("%s(%+v) = %q, want %q", tt.path, tt.req, got.Text, tt.want)
		}
	}
}

func TestRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/payload/decode", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDecideRoute(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		host   string
		action routing.Action
		rule   int
	}{
		{"10.1.2.3", routing.ActionDirect, 0},
		{"tracker.ads.example", routing.ActionBlock, 1},
		{"example.org", routing.ActionProxy, -1},
	}
	for _, tt := range tests {
		rec := s.do(t, http.MethodPost, "/route", dto.RouteRequest{Host: tt.host})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", tt.host, rec.Code)
		}
		got := decodeBody[routing.Decision](t, rec)
		if got.Action != tt.action || got.Rule != tt.rule {
			t.Errorf("%s = %+v, want %s rule %d", tt.host, got, tt.action, tt.rule)
		}
	}

	if rec := s.do(t, http.MethodPost, "/route", dto.RouteRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty host status = %d", rec.Code)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/subscriptions", dto.SubscriptionCreateRequest{URL: " https://sub.example/a ", Remarks: "main"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body)
	}
	created := decodeBody[domain.Subscription](t, rec)
	if created.ID == "" || created.URL != "https://sub.example/a" || !created.Enabled {
		t.Fatalf("created = %+v", created)
	}

	rejected := []struct {
		url    string
		status int
	}{
		{"https://sub.example/a", http.StatusConflict},
		{"http://sub.example/b", http.StatusBadRequest},
		{"https://blocked.example/sub", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}
	for _, tt := range rejected {
		if rec := s.do(t, http.MethodPost, "/subscriptions", dto.SubscriptionCreateRequest{URL: tt.url}); rec.Code != tt.status {
			t.Errorf("create %q status = %d, want %d", tt.url, rec.Code, tt.status)
		}
	}

	rec = s.do(t, http.MethodPost, "/subscriptions/"+created.ID+"/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body %s", rec.Code, rec.Body)
	}
	if got := decodeBody[dto.SubscriptionRefreshResult](t, rec); got.Nodes != 2 {
		t.Fatalf("refresh = %+v", got)
	}

	rec = s.do(t, http.MethodGet, "/subscriptions/"+created.ID+"/nodes", nil)
	nodes := decodeBody[[]domain.Node](t, rec)
	if len(nodes) != 2 || nodes[0].HostKind != netaddr.KindIPv4 || nodes[1].Host != "node.example.org" {
		t.Fatalf("nodes = %+v", nodes)
	}

	rec = s.do(t, http.MethodPatch, "/subscriptions/"+created.ID, dto.SubscriptionUpdateRequest{Enabled: false})
	if got := decodeBody[domain.Subscription](t, rec); got.Enabled || got.NodeCount != 2 || got.LastFormat != string(subscription.FormatShareLinks) {
		t.Fatalf("updated = %+v", got)
	}

	rec = s.do(t, http.MethodGet, "/subscriptions", nil)
	if list := decodeBody[[]domain.Subscription](t, rec); len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	if rec := s.do(t, http.MethodDelete, "/subscriptions/"+created.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	for _, path := range []string{"/subscriptions/" + created.ID, "/subscriptions/" + created.ID + "/nodes"} {
		if rec := s.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s after delete = %d, want 404", path, rec.Code)
		}
	}
}

func TestRefreshFailureIsRecorded(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/subscriptions", dto.SubscriptionCreateRequest{URL: "https://sub.example/missing"})
	created := decodeBody[domain.Subscription](t, rec)

	if rec := s.do(t, http.MethodPost, "/subscriptions/"+created.ID+"/refresh", nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("refresh status = %d, want 502", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/subscriptions/"+created.ID, nil)
	if got := decodeBody[domain.Subscription](t, rec); got.LastError == "" || got.Healthy() {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestRefreshAllRoute(t *testing.T) {
	s := newTestServer(t)

	for _, url := range []string{"https://sub.example/a", "https://sub.example/missing"} {
		if rec := s.do(t, http.MethodPost, "/subscriptions", dto.SubscriptionCreateRequest{URL: url}); rec.Code != http.StatusCreated {
			t.Fatalf("create %s = %d", url, rec.Code)
		}
	}
	disabled := false
	if rec := s.do(t, http.MethodPost, "/subscriptions", dto.SubscriptionCreateRequest{URL: "https://sub.example/off", Enabled: &disabled}); rec.Code != http.StatusCreated {
		t.Fatalf("create disabled = %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/subscriptions/refresh", nil)
	got := decodeBody[dto.RefreshOutcome](t, rec)
	if got.Total != 2 || got.Succeeded != 1 || got.Failed != 1 || got.Nodes != 2 {
		t.Fatalf("outcome = %+v", got)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)

	cfg, err := config.DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.GeoLite.APIKey = "secret-key"
	cfg.Subscription.LoopbackMarker = "localhost"
	if rec := s.do(t, http.MethodPut, "/settings", cfg); rec.Code != http.StatusNoContent {
		t.Fatalf("save status = %d body %s", rec.Code, rec.Body)
	}

	rec := s.do(t, http.MethodGet, "/settings", nil)
	got := decodeBody[config.Config](t, rec)
	if got.GeoLite.APIKey != maskedSecret || got.Subscription.LoopbackMarker != "localhost" {
		t.Fatalf("settings = %+v", got)
	}

	// Saving the masked form keeps the stored key.
	if rec := s.do(t, http.MethodPut, "/settings", got); rec.Code != http.StatusNoContent {
		t.Fatalf("resave status = %d", rec.Code)
	}
	if key := config.GetConfig().GeoLite.APIKey; key != "secret-key" {
		t.Fatalf("api key = %q", key)
	}

	rec = s.do(t, http.MethodPost, "/subscriptions", dto.SubscriptionCreateRequest{URL: "https://sub.example/a"})
	created := decodeBody[domain.Subscription](t, rec)
	blacklisted := got
	blacklisted.WebsiteBlacklist = []string{"sub.example"}
	if rec := s.do(t, http.MethodPut, "/settings", blacklisted); rec.Code != http.StatusNoContent {
		t.Fatalf("blacklist save status = %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/subscriptions/"+created.ID, nil)
	if sub := decodeBody[domain.Subscription](t, rec); sub.Enabled {
		t.Fatal("blacklisted subscription still enabled")
	}

	badRouting := got
	badRouting.Routing.Fallback = "tunnel"
	if rec := s.do(t, http.MethodPut, "/settings", badRouting); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid routing status = %d", rec.Code)
	}
	badRanges := got
	badRanges.Subscription.PrivateRanges = []string{"fc00::/7"}
	if rec := s.do(t, http.MethodPut, "/settings", badRanges); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid ranges status = %d", rec.Code)
	}
}

func TestGeoLiteUpdateWithoutResolver(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodPost, "/geolite/update", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
