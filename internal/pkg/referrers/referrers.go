package referrers

import (
	"net/url"
	"strings"
)

// Direct labels visits without a referrer.
const Direct = "direct"

// Referrer hostnames that matter for a portfolio, mapped to display names.
var knownReferrers = map[string]string{
	// Search
	"google.com":     "Google",
	"google.fr":      "Google",
	"google.be":      "Google",
	"google.ch":      "Google",
	"google.ca":      "Google",
	"bing.com":       "Bing",
	"duckduckgo.com": "DuckDuckGo",
	"ecosia.org":     "Ecosia",
	"qwant.com":      "Qwant",
	"yahoo.com":      "Yahoo",

	// Social
	"instagram.com":   "Instagram",
	"l.instagram.com": "Instagram",
	"facebook.com":    "Facebook",
	"l.facebook.com":  "Facebook",
	"lm.facebook.com": "Facebook",
	"pinterest.com":   "Pinterest",
	"pinterest.fr":    "Pinterest",
	"pin.it":          "Pinterest",
	"threads.net":     "Threads",
	"bsky.app":        "Bluesky",
	"x.com":           "X/Twitter",
	"t.co":            "X/Twitter",
	"linkedin.com":    "LinkedIn",
	"lnkd.in":         "LinkedIn",
	"tiktok.com":      "TikTok",
	"youtube.com":     "YouTube",
	"youtu.be":        "YouTube",
	"linktr.ee":       "Linktree",

	// Art platforms
	"behance.net":    "Behance",
	"artstation.com": "ArtStation",
	"dribbble.com":   "Dribbble",
	"saatchiart.com": "Saatchi Art",
	"artsy.net":      "Artsy",
	"singulart.com":  "Singulart",
	"deviantart.com": "DeviantArt",

	// Mail
	"mail.google.com":   "Gmail",
	"outlook.live.com":  "Outlook",
	"mail.proton.me":    "Proton Mail",
	"webmail.orange.fr": "Orange Mail",
}

// FriendlyName maps a hostname to a display name. Unknown hosts are returned
// without their www. prefix and with the first letter capitalized.
func FriendlyName(hostname string) string {
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	if name, ok := knownReferrers[hostname]; ok {
		return name
	}

	if withoutWWW, ok := strings.CutPrefix(hostname, "www."); ok {
		if name, ok := knownReferrers[withoutWWW]; ok {
			return name
		}
		hostname = withoutWWW
	}

	for domain, name := range knownReferrers {
		if strings.HasSuffix(hostname, "."+domain) {
			return name
		}
	}

	return capitalizeFirst(hostname)
}

// Hostname extracts the host of a referrer URL. Bare hosts are accepted.
func Hostname(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	if !strings.Contains(referrer, "://") {
		referrer = "https://" + referrer
	}
	parsed, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// Label returns the display name for a stored referrer, or Direct.
func Label(referrer string) string {
	host := Hostname(referrer)
	if host == "" {
		return Direct
	}
	return FriendlyName(host)
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
