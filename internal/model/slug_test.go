package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSlug(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"Password Reset", "password-reset"},
		{"password-reset", "password-reset"},
		{"  SSO / SAML  login ", "sso-saml-login"},
		{"Exportés", "exportés"}, // NFKC composes the combining accent
		{"API_rate_limits!!", "api-rate-limits"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeSlug(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeSlugIdempotent(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"Billing Overcharge", "2FA codes expired", "weird   spacing"} {
		once := NormalizeSlug(raw)
		assert.Equal(t, once, NormalizeSlug(once))
	}
}

func TestSlugValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	good := Slug{Slug: "password-reset", TicketCount: 3, FirstSeen: now.Add(-time.Hour), LastSeen: now}
	require.NoError(t, good.Validate())

	bad := good
	bad.FirstSeen, bad.LastSeen = bad.LastSeen, bad.FirstSeen
	assert.Error(t, bad.Validate())

	neg := good
	neg.TicketCount = -1
	assert.Error(t, neg.Validate())

	empty := good
	empty.Slug = ""
	assert.Error(t, empty.Validate())
}

func TestSlugJSONExplicitNulls(t *testing.T) {
	t.Parallel()

	s := Slug{
		Slug:        "password-reset",
		TicketCount: 12,
		FirstSeen:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LastSeen:    time.Date(2026, 2, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	// Optional fields are present and explicitly null, never omitted.
	for _, key := range []string{"match", "matched_documents", "matched_search", "last_matched"} {
		v, ok := m[key]
		require.True(t, ok, "field %s omitted", key)
		assert.Nil(t, v, "field %s not null", key)
	}
	assert.Equal(t, "2026-01-02T03:04:05Z", m["first_seen"])
}
