package adapter

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	chapterInText = regexp.MustCompile(`(?i)\b(?:ch(?:apter)?|ep(?:isode)?)\.?\s*#?\s*([0-9]+(?:\.[0-9]+)?)`)
	chapterInPath = regexp.MustCompile(`(?i)(?:chapter|chap|ch|episode|ep)[-_/]?([0-9]+(?:[._][0-9]+)?)`)
	hashNumber    = regexp.MustCompile(`#\s*([0-9]+(?:\.[0-9]+)?)`)
	volumePrefix  = regexp.MustCompile(`(?i)^\s*vol(?:ume)?\.?\s*[0-9]+\s*`)
	titleSep      = regexp.MustCompile(`\s+[-|–]\s+`)
)

func hostIs(u *url.URL, domain string) bool {
	h := strings.ToLower(u.Hostname())
	return h == domain || strings.HasSuffix(h, "."+domain)
}

func parseChapter(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, "_", "."), 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

// titleSegments splits a document title on the separators readers use and
// drops the site name and any chapter marker.
func titleSegments(title, site string) []string {
	var out []string
	for _, part := range titleSep.Split(title, -1) {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, site) {
			continue
		}
		out = append(out, part)
	}
	return out
}

func isChapterLabel(s string) bool {
	s = volumePrefix.ReplaceAllString(s, "")
	loc := chapterInText.FindStringIndex(s)
	if loc == nil {
		loc = hashNumber.FindStringIndex(s)
	}
	// "Ch. 12" or "#012" with nothing but an optional subtitle after it
	return loc != nil && loc[0] == 0
}

func firstTitle(title, site string) (string, bool) {
	for _, seg := range titleSegments(title, site) {
		if !isChapterLabel(seg) {
			return seg, true
		}
	}
	return "", false
}

// MangaDex titles chapter pages "Vol. 2 Ch. 14 - Series - MangaDex".
type MangaDex struct{}

func (MangaDex) Platform() string { return "mangadex" }

func (MangaDex) Matches(u *url.URL) bool { return hostIs(u, "mangadex.org") }

func (MangaDex) DetectSeries(p Page) (string, bool) { return firstTitle(p.Title, "MangaDex") }

func (MangaDex) DetectChapter(p Page) (float64, bool) {
	if m := chapterInText.FindStringSubmatch(p.Title); m != nil {
		return parseChapter(m[1])
	}
	return 0, false
}

func (MangaDex) DetectProgress(p Page) int { return scrollProgress(p) }

// Webtoon carries the episode in the query and the series slug in the path:
// /en/<genre>/<series>/<episode>/viewer?title_no=1&episode_no=12.
type Webtoon struct{}

func (Webtoon) Platform() string { return "webtoon" }

func (Webtoon) Matches(u *url.URL) bool { return hostIs(u, "webtoons.com") }

func (Webtoon) DetectSeries(p Page) (string, bool) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 4 && parts[len(parts)-1] == "viewer" {
		slug := parts[len(parts)-3]
		if slug != "" {
			return strings.ReplaceAll(slug, "-", " "), true
		}
	}
	return firstTitle(p.Title, "WEBTOON")
}

func (Webtoon) DetectChapter(p Page) (float64, bool) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return 0, false
	}
	if ep := u.Query().Get("episode_no"); ep != "" {
		return parseChapter(ep)
	}
	if m := chapterInText.FindStringSubmatch(p.Title); m != nil {
		return parseChapter(m[1])
	}
	return 0, false
}

func (Webtoon) DetectProgress(p Page) int { return scrollProgress(p) }

// MangaPlus titles its viewer "#012 | Series | MANGA Plus by SHUEISHA" and
// pages through images.
type MangaPlus struct{}

func (MangaPlus) Platform() string { return "mangaplus" }

func (MangaPlus) Matches(u *url.URL) bool { return hostIs(u, "mangaplus.shueisha.co.jp") }

func (MangaPlus) DetectSeries(p Page) (string, bool) {
	for _, seg := range titleSegments(p.Title, "MANGA Plus by SHUEISHA") {
		if isChapterLabel(seg) || strings.HasPrefix(strings.ToUpper(seg), "MANGA PLUS") {
			continue
		}
		return seg, true
	}
	return "", false
}

func (MangaPlus) DetectChapter(p Page) (float64, bool) {
	if m := hashNumber.FindStringSubmatch(p.Title); m != nil {
		return parseChapter(m[1])
	}
	return 0, false
}

func (MangaPlus) DetectProgress(p Page) int { return scrollProgress(p) }

// Generic handles any other reader: the chapter comes from the path or the
// title, the series from the title segment that is not a chapter label.
type Generic struct{}

func (Generic) Platform() string { return "generic" }

func (Generic) Matches(u *url.URL) bool { return u.Scheme == "http" || u.Scheme == "https" }

func (Generic) DetectSeries(p Page) (string, bool) {
	segs := titleSegments(p.Title, "")
	for _, seg := range segs {
		if isChapterLabel(seg) {
			continue
		}
		// "Series Chapter 12" in a single segment
		if loc := chapterInText.FindStringIndex(seg); loc != nil && loc[0] > 0 {
			seg = strings.TrimSpace(seg[:loc[0]])
		}
		if seg != "" {
			return seg, true
		}
	}
	return "", false
}

func (Generic) DetectChapter(p Page) (float64, bool) {
	if u, err := url.Parse(p.URL); err == nil {
		if m := chapterInPath.FindStringSubmatch(u.Path); m != nil {
			return parseChapter(m[1])
		}
	}
	if m := chapterInText.FindStringSubmatch(p.Title); m != nil {
		return parseChapter(m[1])
	}
	return 0, false
}

func (Generic) DetectProgress(p Page) int { return scrollProgress(p) }
