package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Config is the crawl job definition stored on a Record. It is treated as an
// immutable value: updates replace it wholesale.
//
// Optional and nullable members are pointers or nil slices so the validator can
// tell "absent" from "zero".
type Config struct {
	IndexPrefix    string          `json:"indexPrefix"`
	Schedule       *string         `json:"schedule,omitempty"`
	StartURLs      []string        `json:"startUrls"`
	FilterOptions  *FilterOptions  `json:"filterOptions,omitempty"`
	RequestOptions *RequestOptions `json:"requestOptions"`
	RobotOptions   *RobotOptions   `json:"robotOptions,omitempty"`
	Actions        []*Action       `json:"actions"`
}

// FilterOptions excludes sites and query parameters from a crawl.
type FilterOptions struct {
	SiteExclusionPatterns           []string `json:"siteExclusionPatterns"`
	QueryParameterExclusionPatterns []string `json:"queryParameterExclusionPatterns"`
}

// RequestOptions controls how the execution fleet issues requests.
type RequestOptions struct {
	Proxy          *Proxy    `json:"proxy,omitempty"`
	RequestTimeout *int      `json:"requestTimeout"`
	Retries        *int      `json:"retries"`
	Headers        []*Header `json:"headers"`
}

// Proxy is an optional outbound proxy.
type Proxy struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// UnmarshalJSON accepts either {"host":..,"port":..} or a "host:port" /
// "scheme://host:port" string.
func (p *Proxy) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		type plain Proxy
		var v plain
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode proxy: %w", err)
		}
		*p = Proxy(v)
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode proxy: %w", err)
	}
	hostPort := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("decode proxy %q: %w", raw, err)
		}
		hostPort = u.Host
	}
	host, portText, err := net.SplitHostPort(hostPort)
	if err != nil {
		return fmt.Errorf("decode proxy %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return fmt.Errorf("decode proxy port %q: %w", portText, err)
	}
	*p = Proxy{Host: host, Port: port}
	return nil
}

// Header is a request header sent with every crawl request. A nil Name or
// Value fails validation; an empty string does not.
type Header struct {
	Name  *string `json:"name"`
	Value *string `json:"value"`
}

// RobotOptions toggles robots-exclusion enforcement.
type RobotOptions struct {
	IgnoreRobotRules      bool `json:"ignoreRobotRules"`
	IgnoreRobotNoIndex    bool `json:"ignoreRobotNoIndex"`
	IgnoreRobotNoFollowTo bool `json:"ignoreRobotNoFollowTo"`
}

// Action routes matching pages into an index.
type Action struct {
	IndexName        string      `json:"indexName"`
	PathsToMatch     []*string   `json:"pathsToMatch"`
	SelectorsToMatch []string    `json:"selectorsToMatch"`
	FileTypesToMatch []*FileType `json:"fileTypesToMatch"`
}

// FileType is the closed set of content types an action may match.
type FileType string

// Supported file types.
const (
	FileTypeHTML FileType = "HTML"
	FileTypePDF  FileType = "PDF"
	FileTypeTXT  FileType = "TXT"
)

var fileTypeMediaTypes = map[FileType]string{
	FileTypeHTML: "text/html",
	FileTypePDF:  "application/pdf",
	FileTypeTXT:  "text/plain",
}

// MediaType returns the MIME type matched by the file type.
func (f FileType) MediaType() string {
	return fileTypeMediaTypes[f]
}

// ParseFileType resolves a file type name case-insensitively.
func ParseFileType(s string) (FileType, error) {
	ft := FileType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := fileTypeMediaTypes[ft]; !ok {
		return "", fmt.Errorf("unsupported file type %q", s)
	}
	return ft, nil
}

// UnmarshalJSON rejects file types outside the supported set.
func (f *FileType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode file type: %w", err)
	}
	ft, err := ParseFileType(raw)
	if err != nil {
		return err
	}
	*f = ft
	return nil
}

// Clone deep-copies the config.
func (c Config) Clone() Config {
	cp := c
	cp.Schedule = clonePtr(c.Schedule)
	cp.StartURLs = cloneStrings(c.StartURLs)
	if c.FilterOptions != nil {
		fo := FilterOptions{
			SiteExclusionPatterns:           cloneStrings(c.FilterOptions.SiteExclusionPatterns),
			QueryParameterExclusionPatterns: cloneStrings(c.FilterOptions.QueryParameterExclusionPatterns),
		}
		cp.FilterOptions = &fo
	}
	if c.RequestOptions != nil {
		ro := RequestOptions{
			Proxy:          clonePtr(c.RequestOptions.Proxy),
			RequestTimeout: clonePtr(c.RequestOptions.RequestTimeout),
			Retries:        clonePtr(c.RequestOptions.Retries),
		}
		if c.RequestOptions.Headers != nil {
			ro.Headers = make([]*Header, len(c.RequestOptions.Headers))
			for i, h := range c.RequestOptions.Headers {
				if h == nil {
					continue
				}
				ro.Headers[i] = &Header{Name: clonePtr(h.Name), Value: clonePtr(h.Value)}
			}
		}
		cp.RequestOptions = &ro
	}
	cp.RobotOptions = clonePtr(c.RobotOptions)
	if c.Actions != nil {
		cp.Actions = make([]*Action, len(c.Actions))
		for i, a := range c.Actions {
			if a == nil {
				continue
			}
			cp.Actions[i] = a.clone()
		}
	}
	return cp
}

func (a *Action) clone() *Action {
	cp := &Action{
		IndexName:        a.IndexName,
		SelectorsToMatch: cloneStrings(a.SelectorsToMatch),
	}
	if a.PathsToMatch != nil {
		cp.PathsToMatch = make([]*string, len(a.PathsToMatch))
		for i, p := range a.PathsToMatch {
			cp.PathsToMatch[i] = clonePtr(p)
		}
	}
	if a.FileTypesToMatch != nil {
		cp.FileTypesToMatch = make([]*FileType, len(a.FileTypesToMatch))
		for i, ft := range a.FileTypesToMatch {
			cp.FileTypesToMatch[i] = clonePtr(ft)
		}
	}
	return cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
