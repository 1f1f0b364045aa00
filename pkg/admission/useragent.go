package admission

import "strings"

// DefaultCrawlers are known-good crawler signatures. They are checked
// before the automation deny-list and always win.
var DefaultCrawlers = []string{
	"googlebot",
	"bingbot",
	"duckduckbot",
	"yandexbot",
	"baiduspider",
	"applebot",
	"slurp",
	"facebookexternalhit",
	"linkedinbot",
	"twitterbot",
}

// DefaultAutomationSignatures match scripted HTTP clients and the generic
// bot heuristic.
var DefaultAutomationSignatures = []string{
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"httpie",
	"okhttp",
	"java/",
	"libwww-perl",
	"scrapy",
	"axios",
	"node-fetch",
	"headlesschrome",
	"phantomjs",
	"selenium",
	"puppeteer",
	"playwright",
	"bot",
	"crawler",
	"spider",
}

// ClassifyUserAgent reports whether ua is allowed. Crawlers are checked
// first; an empty user agent counts as automation.
func ClassifyUserAgent(ua string, crawlers, automation []string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return false
	}
	if crawlers == nil {
		crawlers = DefaultCrawlers
	}
	if automation == nil {
		automation = DefaultAutomationSignatures
	}

	if containsAny(ua, crawlers) {
		return true
	}
	return !containsAny(ua, automation)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
