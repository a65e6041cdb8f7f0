package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

// Violation messages. Clients match on these strings, so they must not change.
const (
	MsgNameBlank              = "Name must not be blank"
	MsgConfigNull             = "Crawler config must not be null"
	MsgIndexPrefixBlank       = "Index prefix could not be blank"
	MsgScheduleInvalid        = "Schedule is not valid"
	MsgStartURLsNull          = "Start-Urls could not be null"
	MsgStartURLBlank          = "Start-Url could not be blank"
	MsgExclusionPatternBlank  = "Exclusion-Pattern could not be blank"
	MsgIgnoredQueryParamBlank = "Ignored-Query-Parameter could not be blank"
	MsgRequestOptionsNull     = "Request options could not be null"
	MsgProxyHostBlank         = "Host could not be blank"
	MsgProxyPortRange         = "Port must be between 0 and 65535"
	MsgRequestTimeoutNull     = "Request timeout could not be null"
	MsgRequestTimeoutMin      = "Request timeout must be greater than 0"
	MsgRetriesNull            = "Request retries could not be null"
	MsgRetriesMin             = "Retries must be greater than 0"
	MsgHeaderNull             = "Request header could not be null"
	MsgHeaderNameNull         = "Request header name could not be null"
	MsgHeaderValueNull        = "Request header value could not be null"
	MsgActionsNull            = "Actions could not be null"
	MsgActionNull             = "Action could not be null"
	MsgIndexNameBlank         = "Index name could not be blank"
	MsgPathsToMatchNull       = "Paths to match during crawl could not be null"
	MsgPathToMatchNull        = "Path to match could not be null"
	MsgSelectorBlank          = "Selectors to match during crawl could not be blank"
	MsgFileTypeToMatchNull    = "File type to match during crawl could not be null"
)

const minProxyPort, maxProxyPort = 0, 65535

// schedulePattern accepts 5 to 7 space separated cron-like fields. The
// expression is only checked, never evaluated.
var schedulePattern = regexp.MustCompile(
	`^((((\d+,)+\d+|(\d+(/|-|#)\d+)|\d+L?|\*(/\d+)?|L(-\d+)?|\?|[A-Z]{3}(-[A-Z]{3})?) ?){5,7})$`,
)

// Violation is a single validation failure.
type Violation struct {
	Field         string `json:"field"`
	RejectedValue any    `json:"rejectedValue"`
	Message       string `json:"message"`
}

type violations []Violation

func (v *violations) add(field string, rejected any, msg string) {
	*v = append(*v, Violation{Field: field, RejectedValue: rejected, Message: msg})
}

// ValidateRequest checks a create/update payload. A nil cfg is reported as a
// single violation; otherwise the config is validated under the "config" path.
func ValidateRequest(name string, cfg *Config) []Violation {
	var out violations
	if isBlank(name) {
		out.add("name", name, MsgNameBlank)
	}
	if cfg == nil {
		out.add("config", nil, MsgConfigNull)
		return out
	}
	out.config("config", *cfg)
	return out
}

// ValidateConfig returns every violation in cfg in declaration order. An empty
// result means the config is valid.
func ValidateConfig(cfg Config) []Violation {
	var out violations
	out.config("", cfg)
	return out
}

func (v *violations) config(prefix string, cfg Config) {
	if isBlank(cfg.IndexPrefix) {
		v.add(join(prefix, "indexPrefix"), cfg.IndexPrefix, MsgIndexPrefixBlank)
	}
	if cfg.Schedule != nil && !schedulePattern.MatchString(*cfg.Schedule) {
		v.add(join(prefix, "schedule"), *cfg.Schedule, MsgScheduleInvalid)
	}
	if cfg.StartURLs == nil {
		v.add(join(prefix, "startUrls"), nil, MsgStartURLsNull)
	}
	v.nonBlank(join(prefix, "startUrls"), cfg.StartURLs, MsgStartURLBlank)
	if cfg.FilterOptions != nil {
		fo := join(prefix, "filterOptions")
		v.nonBlank(join(fo, "siteExclusionPatterns"), cfg.FilterOptions.SiteExclusionPatterns, MsgExclusionPatternBlank)
		v.nonBlank(
			join(fo, "queryParameterExclusionPatterns"),
			cfg.FilterOptions.QueryParameterExclusionPatterns,
			MsgIgnoredQueryParamBlank,
		)
	}
	if cfg.RequestOptions == nil {
		v.add(join(prefix, "requestOptions"), nil, MsgRequestOptionsNull)
	} else {
		v.requestOptions(join(prefix, "requestOptions"), *cfg.RequestOptions)
	}
	if cfg.Actions == nil {
		v.add(join(prefix, "actions"), nil, MsgActionsNull)
	}
	for i, action := range cfg.Actions {
		field := index(join(prefix, "actions"), i)
		if action == nil {
			v.add(field, nil, MsgActionNull)
			continue
		}
		v.action(field, *action)
	}
}

func (v *violations) requestOptions(prefix string, ro RequestOptions) {
	if ro.Proxy != nil {
		if isBlank(ro.Proxy.Host) {
			v.add(join(prefix, "proxy.host"), ro.Proxy.Host, MsgProxyHostBlank)
		}
		if ro.Proxy.Port < minProxyPort || ro.Proxy.Port > maxProxyPort {
			v.add(join(prefix, "proxy.port"), ro.Proxy.Port, MsgProxyPortRange)
		}
	}
	switch {
	case ro.RequestTimeout == nil:
		v.add(join(prefix, "requestTimeout"), nil, MsgRequestTimeoutNull)
	case *ro.RequestTimeout < 1:
		v.add(join(prefix, "requestTimeout"), *ro.RequestTimeout, MsgRequestTimeoutMin)
	}
	switch {
	case ro.Retries == nil:
		v.add(join(prefix, "retries"), nil, MsgRetriesNull)
	case *ro.Retries < 1:
		v.add(join(prefix, "retries"), *ro.Retries, MsgRetriesMin)
	}
	for i, h := range ro.Headers {
		field := index(join(prefix, "headers"), i)
		if h == nil {
			v.add(field, nil, MsgHeaderNull)
			continue
		}
		if h.Name == nil {
			v.add(join(field, "name"), nil, MsgHeaderNameNull)
		}
		if h.Value == nil {
			v.add(join(field, "value"), nil, MsgHeaderValueNull)
		}
	}
}

func (v *violations) action(prefix string, a Action) {
	if isBlank(a.IndexName) {
		v.add(join(prefix, "indexName"), a.IndexName, MsgIndexNameBlank)
	}
	if a.PathsToMatch == nil {
		v.add(join(prefix, "pathsToMatch"), nil, MsgPathsToMatchNull)
	}
	for i, p := range a.PathsToMatch {
		if p == nil {
			v.add(index(join(prefix, "pathsToMatch"), i), nil, MsgPathToMatchNull)
		}
	}
	v.nonBlank(join(prefix, "selectorsToMatch"), a.SelectorsToMatch, MsgSelectorBlank)
	for i, ft := range a.FileTypesToMatch {
		if ft == nil {
			v.add(index(join(prefix, "fileTypesToMatch"), i), nil, MsgFileTypeToMatchNull)
		}
	}
}

func (v *violations) nonBlank(field string, values []string, msg string) {
	for i, s := range values {
		if isBlank(s) {
			v.add(index(field, i), s, msg)
		}
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func join(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

func index(field string, i int) string {
	return fmt.Sprintf("%s[%d]", field, i)
}
