package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"ABC Funding, LLC", "abc funding llc"},
		{"  Crédit   Rapide ", "credit rapide"},
		{"Main-Street Capital", "main street capital"},
		{"", ""},
		{"!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestFirstToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", FirstToken("ABC Funding LLC"))
	assert.Equal(t, "", FirstToken("   "))
}

func TestFind_ExactBeatsFuzzy(t *testing.T) {
	t.Parallel()

	keys := []string{"apex capital group", "apex"}
	got, ok := Find(keys, "APEX")
	assert.True(t, ok)
	assert.Equal(t, "apex", got)
}

func TestFind_FirstTokenContainment(t *testing.T) {
	t.Parallel()

	keys := []string{"zeta funding", "beacon funding partners", "beacon capital"}
	got, ok := Find(keys, "Beacon Funding, Inc.")
	assert.True(t, ok)
	// No disambiguation: lexical order picks "beacon capital".
	assert.Equal(t, "beacon capital", got)
}

func TestFind_NoMatch(t *testing.T) {
	t.Parallel()

	_, ok := Find([]string{"apex"}, "Summit Lending")
	assert.False(t, ok)

	_, ok = Find([]string{"apex"}, "")
	assert.False(t, ok)

	_, ok = Find(nil, "Apex")
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	t.Parallel()

	assert.True(t, Match("Apex Capital", "apex capital"))
	assert.True(t, Match("Apex Capital Group", "Apex Funding"))
	assert.False(t, Match("Summit", "Apex"))
	assert.False(t, Match("", "Apex"))
}

func TestLookup_PreservesCallerOrder(t *testing.T) {
	t.Parallel()

	type lender struct{ name, email string }
	items := []lender{
		{"Rapid Capital East", "east@rapid.test"},
		{"Rapid Capital West", "west@rapid.test"},
	}
	key := func(l lender) string { return l.name }

	got, ok := Lookup(items, key, "Rapid")
	assert.True(t, ok)
	assert.Equal(t, "east@rapid.test", got.email)

	got, ok = Lookup(items, key, "rapid capital west")
	assert.True(t, ok)
	assert.Equal(t, "west@rapid.test", got.email)

	_, ok = Lookup(items, key, "Other")
	assert.False(t, ok)
}
