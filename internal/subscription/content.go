package subscription

import (
	"encoding/json"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"subgate/internal/payload"
)

// ParseContent recognizes sing-box JSON, Clash YAML, plain share-link lines
// and base64 around any of those, in that order. Entries that cannot be
// turned into a node are counted in Skipped; exact duplicates are dropped.
func ParseContent(raw []byte) (Result, error) {
	text := strings.TrimSpace(strings.TrimPrefix(string(raw), "\ufeff"))
	if text == "" {
		return Result{}, ErrEmptyPayload
	}

	res, ok := parseDocument(text)
	if !ok {
		decoded := strings.TrimSpace(payload.DecodeBase64Best(text))
		if decoded == "" {
			return Result{}, ErrUnsupportedFormat
		}
		if res, ok = parseDocument(decoded); !ok {
			return Result{}, ErrUnsupportedFormat
		}
		res.Base64 = true
	}

	res.Nodes, res.Duplicates = dedupeNodes(res.Nodes)
	return res, nil
}

func parseDocument(text string) (Result, bool) {
	if res, ok := parseSingBox(text); ok {
		return res, true
	}
	if res, ok := parseClash(text); ok {
		return res, true
	}
	if res, ok := parseShareLinks(text); ok {
		return res, true
	}
	return Result{}, false
}

type singBoxDocument struct {
	Outbounds *[]singBoxOutbound `json:"outbounds"`
}

type singBoxOutbound struct {
	Type       string   `json:"type"`
	Tag        string   `json:"tag"`
	Server     string   `json:"server"`
	ServerPort flexPort `json:"server_port"`
}

// Outbound types that route traffic but are not servers.
var singBoxControlTypes = map[string]struct{}{
	"direct": {}, "block": {}, "dns": {}, "selector": {}, "urltest": {},
}

func parseSingBox(text string) (Result, bool) {
	if !strings.HasPrefix(text, "{") {
		return Result{}, false
	}
	var doc singBoxDocument
	if err := json.Unmarshal([]byte(text), &doc); err != nil || doc.Outbounds == nil {
		return Result{}, false
	}

	res := Result{Format: FormatSingBox}
	for _, out := range *doc.Outbounds {
		kind := strings.ToLower(strings.TrimSpace(out.Type))
		if _, control := singBoxControlTypes[kind]; control {
			continue
		}
		node, ok := structuredNode(kind, out.Tag, out.Server, int(out.ServerPort))
		if !ok {
			res.Skipped++
			continue
		}
		res.Nodes = append(res.Nodes, node)
	}
	return res, true
}

type clashDocument struct {
	Proxies []clashProxy `yaml:"proxies"`
	Legacy  []clashProxy `yaml:"Proxy"`
}

type clashProxy struct {
	Name   yamlScalar `yaml:"name"`
	Type   yamlScalar `yaml:"type"`
	Server yamlScalar `yaml:"server"`
	Port   yamlScalar `yaml:"port"`
}

// yamlScalar keeps the literal text of any scalar so numeric names and
// quoted ports decode the same way.
type yamlScalar string

func (s *yamlScalar) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = yamlScalar(value.Value)
	}
	return nil
}

func parseClash(text string) (Result, bool) {
	var doc clashDocument
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return Result{}, false
	}
	proxies := doc.Proxies
	if proxies == nil {
		proxies = doc.Legacy
	}
	if proxies == nil {
		return Result{}, false
	}

	res := Result{Format: FormatClash}
	for _, p := range proxies {
		port, _ := strconv.Atoi(strings.TrimSpace(string(p.Port)))
		node, ok := structuredNode(string(p.Type), string(p.Name), string(p.Server), port)
		if !ok {
			res.Skipped++
			continue
		}
		res.Nodes = append(res.Nodes, node)
	}
	return res, true
}

func structuredNode(kind, name, server string, port int) (Node, bool) {
	protocol := canonicalProtocol(kind)
	server = strings.Trim(strings.TrimSpace(server), "[]")
	if protocol == "" || !validEndpoint(server, port) {
		return Node{}, false
	}
	return Node{
		Protocol: protocol,
		Name:     strings.TrimSpace(name),
		Host:     server,
		Port:     port,
	}, true
}

func parseShareLinks(text string) (Result, bool) {
	lines := strings.Split(text, "\n")
	res := Result{Format: FormatShareLinks}
	seenLink := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			res.Skipped++
			continue
		}
		seenLink = true
		node, err := ParseLink(line)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Nodes = append(res.Nodes, node)
	}
	return res, seenLink
}

func dedupeNodes(nodes []Node) ([]Node, int) {
	if len(nodes) < 2 {
		return nodes, 0
	}
	seen := make(map[string]struct{}, len(nodes))
	out := nodes[:0]
	for _, node := range nodes {
		key := node.dedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, node)
	}
	return out, len(nodes) - len(out)
}
