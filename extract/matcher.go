package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// Matcher reports whether an image URL belongs to an origin worth caching.
type Matcher func(u *url.URL) bool

// s3Host matches virtual-hosted and path-style S3 endpoints, including
// regional, dash-regional, dualstack and accelerate forms.
var s3Host = regexp.MustCompile(`^([a-z0-9][a-z0-9.\-]*\.)?s3([.\-][a-z0-9\-]+)*\.amazonaws\.com(\.cn)?$`)

// IsS3Host reports whether host is an S3 endpoint.
func IsS3Host(host string) bool {
	return s3Host.MatchString(strings.ToLower(host))
}

// IsGCSHost reports whether host is a Cloud Storage endpoint.
func IsGCSHost(host string) bool {
	host = strings.ToLower(host)
	return host == "storage.googleapis.com" || strings.HasSuffix(host, ".storage.googleapis.com")
}

func isWeb(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// S3 accepts http(s) URLs served from S3.
func S3(u *url.URL) bool {
	return isWeb(u) && IsS3Host(u.Hostname())
}

// GCS accepts http(s) URLs served from Cloud Storage.
func GCS(u *url.URL) bool {
	return isWeb(u) && IsGCSHost(u.Hostname())
}

// All accepts any absolute http(s) URL.
func All(u *url.URL) bool {
	return isWeb(u)
}

// Hosts accepts http(s) URLs whose host equals one of hosts or is a
// subdomain of one. Matching is case-insensitive.
func Hosts(hosts ...string) Matcher {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			normalized = append(normalized, h)
		}
	}
	return func(u *url.URL) bool {
		if !isWeb(u) {
			return false
		}
		host := strings.ToLower(u.Hostname())
		for _, h := range normalized {
			if host == h || strings.HasSuffix(host, "."+h) {
				return true
			}
		}
		return false
	}
}

// Any accepts a URL if at least one matcher does.
func Any(matchers ...Matcher) Matcher {
	return func(u *url.URL) bool {
		for _, m := range matchers {
			if m != nil && m(u) {
				return true
			}
		}
		return false
	}
}
