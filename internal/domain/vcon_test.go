package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVcon(t *testing.T) {
	vc := NewVcon()
	assert.NotEmpty(t, vc.UUID)
	assert.Equal(t, vconVersion, vc.Vcon)
	assert.False(t, vc.CreatedAt.IsZero())
	assert.Equal(t, vc.CreatedAt, vc.UpdatedAt)

	other := NewVcon()
	assert.NotEqual(t, vc.UUID, other.UUID)
}

func TestVcon_Tags(t *testing.T) {
	vc := NewVcon()
	assert.Nil(t, vc.Tags(), "no tags attachment yet")

	vc.AddTag("env", "prod")
	vc.AddTag("team", "support")
	assert.Equal(t, []string{"env:prod", "team:support"}, vc.Tags())

	vc.AddTag("env", "prod")
	assert.Equal(t, []string{"env:prod", "team:support"}, vc.Tags(), "duplicate tag is a no-op")

	// Only one tags attachment regardless of how many tags were added.
	count := 0
	for _, a := range vc.Attachments {
		if a.Type == tagsAttachmentType {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// Tags survive a JSON round trip, where the attachment body decodes as
// []any rather than []string.
func TestVcon_TagsAfterJSONRoundTrip(t *testing.T) {
	vc := NewVcon()
	vc.AddTag("env", "prod")

	data, err := json.Marshal(vc)
	require.NoError(t, err)
	var decoded Vcon
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, []string{"env:prod"}, decoded.Tags())

	decoded.AddTag("env", "prod")
	assert.Equal(t, []string{"env:prod"}, decoded.Tags())
	decoded.AddTag("team", "support")
	assert.Equal(t, []string{"env:prod", "team:support"}, decoded.Tags())
}

func TestVcon_FindAnalysis(t *testing.T) {
	vc := NewVcon()
	vc.AddDialog(Dialog{Type: "text", Body: "hello"})
	vc.AddAnalysis(Analysis{Type: "transcript", Dialog: 0, Vendor: "acme"})
	vc.AddAnalysis(Analysis{Type: "summary", Dialog: 0})
	vc.AddAnalysis(Analysis{Type: "transcript", Dialog: 1, Vendor: "other"})

	got := vc.FindAnalysis("transcript", 0)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.Vendor)

	got = vc.FindAnalysis("transcript", 1)
	require.NotNil(t, got)
	assert.Equal(t, "other", got.Vendor)

	assert.Nil(t, vc.FindAnalysis("sentiment", 0))
}

func TestVcon_Hash(t *testing.T) {
	vc := NewVcon()
	h1 := vc.Hash()
	require.Len(t, h1, 64)
	assert.Equal(t, h1, vc.Hash(), "hash is stable for an unchanged record")

	vc.AddTag("env", "prod")
	assert.NotEqual(t, h1, vc.Hash(), "any mutation changes the hash")
}

func TestDLQName(t *testing.T) {
	assert.Equal(t, "DLQ:main_ingress", DLQName("main_ingress"))
}
