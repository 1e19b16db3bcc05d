package source

import (
	"html"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/cohortwatch/internal/domain"
)

func TestParseCompanyPageDataPayload(t *testing.T) {
	payload := `{"props":{"company":{"name":"Acme","one_liner":"Robots","long_description":"Warehouse robots for everyone","tags":["Robotics","B2B","robotics"],"stage":"Early","team_size":12,"location":"Berlin, Germany","batch_name":"W24"}}}`
	raw := []byte(`<html><head><title>Acme: Robots | Y Combinator</title>
<meta name="description" content="meta text"></head>
<body><div id="app" data-page="` + html.EscapeString(payload) + `"></div></body></html>`)

	obs, name, err := ParseCompanyPage(raw)

	require.NoError(t, err)
	assert.Equal(t, "Acme", name)
	assert.Equal(t, domain.Observation{
		SchemaVersion: domain.ObservationSchemaVersion,
		Description:   "Warehouse robots for everyone",
		Tags:          []string{"b2b", "robotics"},
		Stage:         "Early",
		TeamSize:      "11-50",
		Location:      "Berlin, Germany",
		Batch:         "W24",
	}, obs)
}

func TestParseCompanyPageMetaFallback(t *testing.T) {
	raw := []byte(`<html><head>
<meta property="og:title" content="Widgets Inc: Better widgets | Y Combinator">
<meta name="description" content="  Better   widgets for teams ">
</head><body></body></html>`)

	obs, name, err := ParseCompanyPage(raw)

	require.NoError(t, err)
	assert.Equal(t, "Widgets Inc", name)
	assert.Equal(t, "Better widgets for teams", obs.Description)
	assert.Empty(t, obs.Tags)
}

func TestParseCompanyPageRejectsBrokenPayload(t *testing.T) {
	raw := []byte(`<div data-page="{not json"></div>`)

	_, _, err := ParseCompanyPage(raw)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "data-page", validationErr.Field)
}

func TestParseCompanyPageWithoutContentIsEmpty(t *testing.T) {
	obs, _, err := ParseCompanyPage([]byte(`<html><body><p>nothing here</p></body></html>`))

	require.NoError(t, err)
	assert.True(t, obs.Empty())
	assert.Error(t, obs.Validate())
}

func TestTeamSizeBucket(t *testing.T) {
	assert.Equal(t, "1-10", teamSizeBucket([]byte(`4`)))
	assert.Equal(t, "201-500", teamSizeBucket([]byte(`"300"`)))
	assert.Equal(t, "1001+", teamSizeBucket([]byte(`5000`)))
	assert.Equal(t, "11-50", teamSizeBucket([]byte(`"11-50"`)))
	assert.Equal(t, "", teamSizeBucket([]byte(`null`)))
}
