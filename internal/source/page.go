package source

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rpattn/cohortwatch/internal/domain"
)

// companyPayload is the company record embedded in the page's data-page attribute.
type companyPayload struct {
	Name            string          `json:"name"`
	OneLiner        string          `json:"one_liner"`
	LongDescription string          `json:"long_description"`
	Tags            []string        `json:"tags"`
	Stage           string          `json:"stage"`
	TeamSize        json.RawMessage `json:"team_size"`
	Location        string          `json:"location"`
	AllLocations    string          `json:"all_locations"`
	Batch           string          `json:"batch"`
	BatchName       string          `json:"batch_name"`
}

type pagePayload struct {
	Props struct {
		Company *companyPayload `json:"company"`
	} `json:"props"`
}

type pageFields struct {
	title       string
	ogTitle     string
	description string
	dataPage    string
}

// ParseCompanyPage extracts an observation and display name from a company
// page. The embedded data-page payload wins over meta tags when both exist.
func ParseCompanyPage(raw []byte) (domain.Observation, string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return domain.Observation{}, "", &domain.ValidationError{Field: "page", Reason: err.Error()}
	}

	var fields pageFields
	collectPageFields(doc, &fields)

	obs := domain.Observation{Description: fields.description}
	name := displayNameFromTitle(fields.ogTitle)
	if name == "" {
		name = displayNameFromTitle(fields.title)
	}

	if fields.dataPage != "" {
		var payload pagePayload
		if err := json.Unmarshal([]byte(fields.dataPage), &payload); err != nil {
			return domain.Observation{}, "", &domain.ValidationError{Field: "data-page", Reason: err.Error()}
		}
		if company := payload.Props.Company; company != nil {
			if company.Name != "" {
				name = company.Name
			}
			switch {
			case company.LongDescription != "":
				obs.Description = company.LongDescription
			case company.OneLiner != "":
				obs.Description = company.OneLiner
			}
			obs.Tags = company.Tags
			obs.Stage = company.Stage
			obs.TeamSize = teamSizeBucket(company.TeamSize)
			obs.Location = firstNonEmpty(company.Location, company.AllLocations)
			obs.Batch = firstNonEmpty(company.Batch, company.BatchName)
		}
	}

	return obs.Normalize(), strings.TrimSpace(name), nil
}

func collectPageFields(n *html.Node, fields *pageFields) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Title:
			if fields.title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				fields.title = n.FirstChild.Data
			}
		case atom.Meta:
			name := strings.ToLower(attr(n, "name"))
			property := strings.ToLower(attr(n, "property"))
			switch {
			case name == "description" && fields.description == "":
				fields.description = attr(n, "content")
			case property == "og:title" && fields.ogTitle == "":
				fields.ogTitle = attr(n, "content")
			case property == "og:description" && fields.description == "":
				fields.description = attr(n, "content")
			}
		}
		if fields.dataPage == "" {
			if payload := attr(n, "data-page"); payload != "" {
				fields.dataPage = payload
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectPageFields(c, fields)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// displayNameFromTitle strips the site suffix and tagline from a page title
// such as "Acme: Payments for robots | Y Combinator".
func displayNameFromTitle(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.Index(title, " | "); i >= 0 {
		title = title[:i]
	}
	if i := strings.Index(title, ": "); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// teamSizeBucket accepts a head count or an already bucketed label.
func teamSizeBucket(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(label)); err == nil {
			return bucket(n)
		}
		return label
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return bucket(int(n))
	}
	return ""
}

func bucket(n int) string {
	switch {
	case n <= 0:
		return ""
	case n <= 10:
		return "1-10"
	case n <= 50:
		return "11-50"
	case n <= 200:
		return "51-200"
	case n <= 500:
		return "201-500"
	case n <= 1000:
		return "501-1000"
	default:
		return "1001+"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
