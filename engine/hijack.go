package engine

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to CDP resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// adDomains are ad and tracking hosts refused when BlockAds is set.
var adDomains = hostSet(
	"doubleclick.net", "googlesyndication.com", "googleadservices.com", "google-analytics.com",
	"googletagmanager.com", "googletagservices.com", "facebook.net", "connect.facebook.net",
	"facebook.com", "fbcdn.net", "adnxs.com", "adsrvr.org",
	"amazon-adsystem.com", "criteo.com", "criteo.net", "outbrain.com",
	"taboola.com", "moatads.com", "pubmatic.com", "rubiconproject.com",
	"scorecardresearch.com", "quantserve.com", "hotjar.com", "mixpanel.com",
	"segment.io", "segment.com", "analytics.twitter.com", "ads-twitter.com",
	"static.ads-twitter.com", "chartbeat.com", "chartbeat.net", "optimizely.com",
	"zedo.com", "media.net", "contextweb.com", "bidswitch.net",
	"openx.net", "casalemedia.com", "demdex.net", "krxd.net",
	"bluekai.com", "exelator.com", "turn.com", "mathtag.com",
	"serving-sys.com", "eyeota.net", "agkn.com", "rlcdn.com",
	"sharethis.com", "addthis.com", "consensu.org",
)

func hostSet(hosts ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		m[h] = struct{}{}
	}
	return m
}

// isAdDomain checks if a hostname (or any parent domain) is in the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	if _, ok := adDomains[host]; ok {
		return true
	}
	// pagead2.googlesyndication.com -> googlesyndication.com
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
		if _, ok := adDomains[host]; ok {
			return true
		}
	}
	return false
}

// isAdURL reports whether rawURL points at an ad host.
func isAdURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return isAdDomain(u.Hostname())
}

// setupHijack installs a request interceptor that refuses the given resource
// types and, with blockAds, requests to ad hosts. It returns nil when there is
// nothing to block; otherwise the caller stops the returned router.
func setupHijack(page *rod.Page, blockedTypes []string, blockAds bool) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := resourceTypes[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 && !blockAds {
		return nil
	}

	router := page.HijackRequests()

	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		if blockAds && isAdURL(ctx.Request.URL().String()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// Run blocks until Stop.
	go router.Run()

	return router
}
