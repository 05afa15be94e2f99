package subscription

import (
	"errors"
	"strings"
	"testing"

	"subgate/internal/netaddr"
	"subgate/internal/payload"
)

var sampleLinks = []string{
	"trojan://secret@example.org:443?sni=example.org#Trojan 1",
	"ss://" + payload.EncodeBase64("aes-256-gcm:pass", true) + "@1.2.3.4:8388#Tokyo",
	"vless://uuid@[2001:db8::2]:443?encryption=none#v6",
}

func TestParseContentShareLinks(t *testing.T) {
	body := strings.Join([]string{
		"# exported list",
		sampleLinks[0],
		"",
		"STATUS=upload=0;download=0",
		sampleLinks[1],
		sampleLinks[2],
		sampleLinks[0],
		"ssr://unsupported",
	}, "\r\n")

	res, err := ParseContent([]byte(body))
	if err != nil {
		t.Fatalf("ParseContent error: %v", err)
	}
	if res.Format != FormatShareLinks || res.Base64 {
		t.Fatalf("format = %s base64 = %t", res.Format, res.Base64)
	}
	if len(res.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3: %+v", len(res.Nodes), res.Nodes)
	}
	if res.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", res.Skipped)
	}
	if res.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1", res.Duplicates)
	}
	if res.Nodes[0].Name != "Trojan 1" || res.Nodes[1].Host != "1.2.3.4" || res.Nodes[2].Host != "2001:db8::2" {
		t.Fatalf("unexpected nodes: %+v", res.Nodes)
	}
}

func TestParseContentBase64Links(t *testing.T) {
	for _, removePadding := range []bool{false, true} {
		body := payload.EncodeBase64(strings.Join(sampleLinks, "\n"), removePadding)
		res, err := ParseContent([]byte(body))
		if err != nil {
			t.Fatalf("ParseContent error: %v", err)
		}
		if !res.Base64 || res.Format != FormatShareLinks || len(res.Nodes) != 3 {
			t.Fatalf("unexpected result: %+v", res)
		}
	}
}

func TestParseContentBase64LineWrapped(t *testing.T) {
	encoded := payload.EncodeBase64(strings.Join(sampleLinks, "\n"), false)
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		wrapped.WriteString(encoded[i:end])
		wrapped.WriteString("\n")
	}

	res, err := ParseContent([]byte(wrapped.String()))
	if err != nil {
		t.Fatalf("ParseContent error: %v", err)
	}
	if len(res.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(res.Nodes))
	}
}

const clashSample = `
port: 7890
mode: rule
proxies:
  - name: "HK"
    type: ss
    server: 1.1.1.1
    port: 8388
    cipher: aes-256-gcm
    password: pw
  - name: 42
    type: trojan
    server: t.example.com
    port: "443"
  - name: v6
    type: vless
    server: "[2001:db8::9]"
    port: 443
  - name: snell
    type: snell
    server: s.example.com
    port: 1
  - name: no port
    type: vmess
    server: v.example.com
rules:
  - MATCH,DIRECT
`

func TestParseContentClash(t *testing.T) {
	res, err := ParseContent([]byte(clashSample))
	if err != nil {
		t.Fatalf("ParseContent error: %v", err)
	}
	if res.Format != FormatClash {
		t.Fatalf("format = %s, want clash", res.Format)
	}
	want := []Node{
		{Protocol: "ss", Name: "HK", Host: "1.1.1.1", Port: 8388},
		{Protocol: "trojan", Name: "42", Host: "t.example.com", Port: 443},
		{Protocol: "vless", Name: "v6", Host: "2001:db8::9", Port: 443},
	}
	if len(res.Nodes) != len(want) {
		t.Fatalf("got %d nodes, want %d: %+v", len(res.Nodes), len(want), res.Nodes)
	}
	for i := range want {
		if res.Nodes[i] != want[i] {
			t.Errorf("node %d = %+v, want %+v", i, res.Nodes[i], want[i])
		}
	}
	if res.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", res.Skipped)
	}
}

func TestParseContentClashLegacyKeyInBase64(t *testing.T) {
	doc := "Proxy:\n  - {name: a, type: hysteria2, server: h.example.com, port: 8443}\n"
	res, err := ParseContent([]byte(payload.EncodeBase64(doc, false)))
	if err != nil {
		t.Fatalf("ParseContent error: %v", err)
	}
	if res.Format != FormatClash || !res.Base64 || len(res.Nodes) != 1 || res.Nodes[0].Protocol != "hysteria2" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

const singBoxSample = `{
  "log": {"level": "warn"},
  "outbounds": [
    {"type": "selector", "tag": "proxy", "outbounds": ["a", "b"]},
    {"type": "vless", "tag": "a", "server": "a.example.com", "server_port": 443, "uuid": "x"},
    {"type": "shadowsocks", "tag": "b", "server": "198.51.100.4", "server_port": "8388"},
    {"type": "trojan", "tag": "broken", "server": "", "server_port": 443},
    {"type": "direct", "tag": "direct"},
    {"type": "block", "tag": "block"}
  ]
}`

func TestParseContentSingBox(t *testing.T) {
	res, err := ParseContent([]byte(singBoxSample))
	if err != nil {
		t.Fatalf("ParseContent error: %v", err)
	}
	if res.Format != FormatSingBox {
		t.Fatalf("format = %s, want sing-box", res.Format)
	}
	if len(res.Nodes) != 2 || res.Skipped != 1 {
		t.Fatalf("nodes = %+v skipped = %d", res.Nodes, res.Skipped)
	}
	if res.Nodes[1].Protocol != "ss" || res.Nodes[1].Port != 8388 {
		t.Fatalf("shadowsocks outbound parsed as %+v", res.Nodes[1])
	}
}

func TestParseContentErrors(t *testing.T) {
	if _, err := ParseContent(nil); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("nil payload error = %v", err)
	}
	if _, err := ParseContent([]byte(" \n\t ")); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("blank payload error = %v", err)
	}
	for _, body := range []string{"<html><body>Not Found</body></html>", `{"error":"expired"}`, "!!!!"} {
		if _, err := ParseContent([]byte(body)); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("ParseContent(%q) error = %v, want ErrUnsupportedFormat", body, err)
		}
	}
}

func TestClassifyAndEnrich(t *testing.T) {
	nodes := []Node{
		{Host: "1.2.3.4"},
		{Host: "2001:db8::1"},
		{Host: "example.com"},
		{Host: "localhost"},
	}
	Classify(nodes)

	wantKinds := []netaddr.Kind{netaddr.KindIPv4, netaddr.KindIPv6, netaddr.KindDomain, netaddr.KindNone}
	for i, want := range wantKinds {
		if nodes[i].HostKind != want {
			t.Errorf("node %d kind = %s, want %s", i, nodes[i].HostKind, want)
		}
	}

	Enrich(nodes, staticCountries{"1.2.3.4": "AU", "example.com": "US"})
	if nodes[0].Country != "AU" {
		t.Fatalf("IPv4 node country = %q, want AU", nodes[0].Country)
	}
	if nodes[2].Country != "" {
		t.Fatal("domain hosts must not be resolved")
	}
}

type staticCountries map[string]string

func (s staticCountries) Country(ip string) (string, bool) {
	code, ok := s[ip]
	return code, ok
}
