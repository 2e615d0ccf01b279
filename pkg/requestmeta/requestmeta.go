// Package requestmeta holds client metadata passed explicitly to every
// governance operation so the audit trail can attribute it.
package requestmeta

import (
	"strings"

	"github.com/mssola/useragent"
)

// Metadata describes the client that issued an operation. All fields are
// optional; batch jobs pass the zero value.
type Metadata struct {
	IP         string
	UserAgent  string
	SessionKey string
}

// ClientInfo is the parsed form of a User-Agent header.
type ClientInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// ClientInfo parses the User-Agent. ok is false when no header was supplied.
func (m Metadata) ClientInfo() (info ClientInfo, ok bool) {
	raw := strings.TrimSpace(m.UserAgent)
	if raw == "" {
		return ClientInfo{}, false
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	return ClientInfo{
		Browser:        name,
		BrowserVersion: version,
		OS:             ua.OS(),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}, true
}

// Map returns the parsed client info in the shape stored in an audit
// entry's extra map.
func (c ClientInfo) Map() map[string]any {
	return map[string]any{
		"browser":         c.Browser,
		"browser_version": c.BrowserVersion,
		"os":              c.OS,
		"mobile":          c.Mobile,
		"bot":             c.Bot,
	}
}
