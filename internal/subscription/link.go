package subscription

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"subgate/internal/payload"
)

// ParseLink extracts protocol, name, host and port from a share link such as
// "vmess://<base64 json>", "ss://<userinfo>@host:port#name" or
// "trojan://pass@host:port#name". Protocol options are not interpreted.
func ParseLink(line string) (Node, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Node{}, fmt.Errorf("%w: empty line", ErrInvalidLink)
	}

	idx := strings.Index(trimmed, "://")
	if idx <= 0 {
		return Node{}, fmt.Errorf("%w: missing scheme", ErrInvalidLink)
	}
	scheme := strings.ToLower(trimmed[:idx])
	fixed := payload.FixIllegalURL(trimmed)

	var (
		node Node
		err  error
	)
	switch scheme {
	case "vmess":
		node, err = parseVMessLink(fixed)
	case "ss":
		node, err = parseShadowsocksLink(fixed)
	default:
		protocol := canonicalProtocol(scheme)
		if protocol == "" || protocol == "vmess" || protocol == "ss" {
			return Node{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
		}
		node, err = parseURLLink(fixed, protocol)
	}
	if err != nil {
		return Node{}, err
	}

	if !validEndpoint(node.Host, node.Port) {
		return Node{}, fmt.Errorf("%w: bad endpoint %q port %d", ErrInvalidLink, node.Host, node.Port)
	}
	node.URI = trimmed
	return node, nil
}

// splitFragment cuts at the last '#', so names may not contain one but
// passwords may.
func splitFragment(raw string) (core, name string) {
	idx := strings.LastIndexByte(raw, '#')
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], payload.URLDecode(raw[idx+1:])
}

type vmessBody struct {
	PS   string   `json:"ps"`
	Add  string   `json:"add"`
	Port flexPort `json:"port"`
}

func parseVMessLink(line string) (Node, error) {
	core, fragmentName := splitFragment(line)
	body := payload.DecodeBase64Best(core[len("vmess://"):])
	if body == "" {
		return Node{}, fmt.Errorf("%w: vmess body is not base64", ErrInvalidLink)
	}

	var cfg vmessBody
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		return Node{}, fmt.Errorf("%w: vmess body: %v", ErrInvalidLink, err)
	}

	name := strings.TrimSpace(cfg.PS)
	if name == "" {
		name = fragmentName
	}
	return Node{
		Protocol: "vmess",
		Name:     name,
		Host:     strings.TrimSpace(cfg.Add),
		Port:     int(cfg.Port),
	}, nil
}

// parseShadowsocksLink handles SIP002 ("ss://userinfo@host:port") and the
// legacy form where the whole "method:pass@host:port" is base64. The server
// part is cut by hand because standard base64 userinfo may contain '/'.
func parseShadowsocksLink(line string) (Node, error) {
	core, name := splitFragment(line)
	rest := core[len("ss://"):]

	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		server := rest[at+1:]
		if cut := strings.IndexAny(server, "/?"); cut >= 0 {
			server = server[:cut]
		}
		host, port := splitHostPort(server)
		return Node{Protocol: "ss", Name: name, Host: host, Port: port}, nil
	}

	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	decoded := payload.DecodeBase64Best(strings.TrimRight(rest, "/"))
	at := strings.LastIndexByte(decoded, '@')
	if at < 0 {
		return Node{}, fmt.Errorf("%w: shadowsocks link has no server", ErrInvalidLink)
	}
	host, port := splitHostPort(decoded[at+1:])
	return Node{Protocol: "ss", Name: name, Host: host, Port: port}, nil
}

func parseURLLink(line, protocol string) (Node, error) {
	core, name := splitFragment(line)
	u, err := url.Parse(core)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	port, _ := strconv.Atoi(u.Port())
	return Node{
		Protocol: protocol,
		Name:     name,
		Host:     u.Hostname(),
		Port:     port,
	}, nil
}

func splitHostPort(hostPort string) (string, int) {
	hostPort = strings.TrimSpace(strings.TrimRight(hostPort, "/"))
	if h, p, err := net.SplitHostPort(hostPort); err == nil {
		port, _ := strconv.Atoi(p)
		return h, port
	}
	if idx := strings.LastIndexByte(hostPort, ':'); idx > 0 {
		port, _ := strconv.Atoi(hostPort[idx+1:])
		return hostPort[:idx], port
	}
	return hostPort, 0
}

// flexPort decodes a port written as a number or a numeric string. Anything
// else decodes to 0 so one bad entry does not fail the whole document.
type flexPort int

func (p *flexPort) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*p = 0
		return nil
	}
	*p = flexPort(n)
	return nil
}
