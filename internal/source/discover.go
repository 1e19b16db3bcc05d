package source

import (
	"bytes"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rpattn/cohortwatch/internal/domain"
)

// DiscoverTargets collects the unique company links of a directory listing
// page, sorted by external id. Relative and same-host absolute links count.
func DiscoverTargets(raw []byte, baseURL string) ([]Target, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, &domain.ValidationError{Field: "base_url", Reason: err.Error()}
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &domain.ValidationError{Field: "page", Reason: err.Error()}
	}

	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if slug, ok := companySlug(attr(n, "href"), base); ok {
				seen[slug] = struct{}{}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	targets := make([]Target, 0, len(seen))
	for slug := range seen {
		targets = append(targets, Target{ExternalID: slug, URL: CompanyURL(base.String(), slug)})
	}
	slices.SortFunc(targets, func(a, b Target) int { return strings.Compare(a.ExternalID, b.ExternalID) })
	return targets, nil
}

func companySlug(href string, base *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	link, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if link.IsAbs() && !strings.EqualFold(link.Host, base.Host) {
		return "", false
	}

	path := strings.TrimRight(link.Path, "/")
	rest, ok := strings.CutPrefix(path, "/companies/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
