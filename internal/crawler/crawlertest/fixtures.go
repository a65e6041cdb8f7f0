// Package crawlertest provides crawler configs for tests.
package crawlertest

import "github.com/JakeFAU/crawler-manager/internal/crawler"

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// ValidConfig returns a fully populated config that passes validation.
func ValidConfig() crawler.Config {
	return crawler.Config{
		IndexPrefix: "crawler_",
		Schedule:    Ptr("0 0 0 1 1 ? 2099"),
		StartURLs:   []string{"https://www.google.com", "https://www.bing.com"},
		FilterOptions: &crawler.FilterOptions{
			SiteExclusionPatterns:           []string{"https://www.google.com/**"},
			QueryParameterExclusionPatterns: []string{"utm_*"},
		},
		RequestOptions: &crawler.RequestOptions{
			Proxy:          &crawler.Proxy{Host: "localhost", Port: 8080},
			RequestTimeout: Ptr(1000),
			Retries:        Ptr(3),
			Headers: []*crawler.Header{
				{Name: Ptr("User-Agent"), Value: Ptr("Mozilla/5.0 (compatible")},
			},
		},
		RobotOptions: &crawler.RobotOptions{
			IgnoreRobotRules:      true,
			IgnoreRobotNoIndex:    true,
			IgnoreRobotNoFollowTo: true,
		},
		Actions: []*crawler.Action{
			{
				IndexName:        "test_index",
				PathsToMatch:     []*string{Ptr("http://www.foufos.gr/**")},
				SelectorsToMatch: []string{".products", "!.featured"},
				FileTypesToMatch: []*crawler.FileType{Ptr(crawler.FileTypeHTML), Ptr(crawler.FileTypePDF)},
			},
		},
	}
}

// UpdatedConfig returns a second valid config that differs from ValidConfig in
// every section.
func UpdatedConfig() crawler.Config {
	return crawler.Config{
		IndexPrefix: "crawlerr_",
		Schedule:    Ptr("0 0 2 1 1 ? 2099"),
		StartURLs:   []string{"https://www.google.com", "https://www.bing.com", "https://www.yahoo.com"},
		FilterOptions: &crawler.FilterOptions{
			SiteExclusionPatterns:           []string{"https://www.yahoo.com/**"},
			QueryParameterExclusionPatterns: []string{"utc_*"},
		},
		RequestOptions: &crawler.RequestOptions{
			Proxy:          &crawler.Proxy{Host: "localhost", Port: 8090},
			RequestTimeout: Ptr(11000),
			Retries:        Ptr(32),
			Headers: []*crawler.Header{
				{Name: Ptr("User-Agent"), Value: Ptr("Chrome/5.0 (compatible")},
			},
		},
		RobotOptions: &crawler.RobotOptions{IgnoreRobotRules: true},
		Actions: []*crawler.Action{
			{
				IndexName:        "test2_index",
				PathsToMatch:     []*string{Ptr("http://www.foufos.gr/**"), Ptr("http://www.foufos.gr/**")},
				SelectorsToMatch: []string{".noproducts", "!.featured", ".feature"},
				FileTypesToMatch: []*crawler.FileType{
					Ptr(crawler.FileTypeHTML),
					Ptr(crawler.FileTypePDF),
					Ptr(crawler.FileTypeTXT),
				},
			},
		},
	}
}
