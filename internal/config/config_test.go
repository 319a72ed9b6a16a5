package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
links:
  tag_support:
    type: tag
    options:
      tags: ["team:support"]
  drop_spam:
    type: sampler
    options:
      deny_tag: "spam:true"

storages:
  archive:
    type: file
    options:
      path: /var/lib/vcon/archive

chains:
  main:
    links: [tag_support, drop_spam]
    ingress_lists: [ingress_main]
    egress_list: egress_main
    storages: [archive]
    enabled: true

settings:
  default_ttl_seconds: 3600
  dlq_ttl_seconds: 604800
`

func TestParse_ValidDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	require.Len(t, doc.Links, 2)
	assert.Equal(t, "tag", doc.Links["tag_support"].Type)

	chain, ok := doc.Chains["main"]
	require.True(t, ok)
	assert.Equal(t, "main", chain.Name, "map key should be copied onto the chain")
	assert.Equal(t, []string{"tag_support", "drop_spam"}, chain.Links)
	assert.Equal(t, "egress_main", chain.EgressList)
	assert.True(t, chain.Enabled)
}

func TestParse_DefaultsApplied(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 3, doc.Settings.RetryMaxAttempts)
	assert.Equal(t, "exponential", doc.Settings.RetryBackoff)
	assert.Equal(t, 5, doc.Settings.PopTimeoutSeconds)
}

func TestValidate_DLQTTLMustExceedDefaultTTL(t *testing.T) {
	doc := Defaults()
	doc.Settings.DefaultTTLSeconds = 3600
	doc.Settings.DLQTTLSeconds = 3600

	err := Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq_ttl_seconds")
}

func TestValidate_DLQTTLZeroDisables(t *testing.T) {
	doc := Defaults()
	doc.Settings.DLQTTLSeconds = 0

	assert.NoError(t, Validate(doc))
}

func TestValidate_UnknownLinkReference(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	chain := doc.Chains["main"]
	chain.Links = append(chain.Links, "ghost")
	doc.Chains["main"] = chain

	err = Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown link: ghost")
}

func TestValidate_UnknownStorageReference(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	chain := doc.Chains["main"]
	chain.Storages = append(chain.Storages, "nowhere")
	doc.Chains["main"] = chain

	err = Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage: nowhere")
}

func TestValidate_BadBackoff(t *testing.T) {
	doc := Defaults()
	doc.Settings.RetryBackoff = "quadratic"

	err := Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_backoff")
}

func TestValidate_FollowerRequiredFields(t *testing.T) {
	doc := Defaults()
	doc.Settings.Followers = []FollowerTarget{{URL: "http://peer:8000"}}

	err := Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "egress_list is required")
	assert.Contains(t, err.Error(), "local_ingress is required")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VCON_TEST_TOKEN", "sekrit")

	out := ExpandEnvVars("token: ${VCON_TEST_TOKEN}")
	assert.Equal(t, "token: sekrit", out)

	out = ExpandEnvVars("host: ${VCON_TEST_UNSET:-localhost}")
	assert.Equal(t, "host: localhost", out)

	out = ExpandEnvVars("host: ${VCON_TEST_UNSET}")
	assert.Equal(t, "host: ${VCON_TEST_UNSET}", out, "unset without default keeps the placeholder")
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("chains: ["))
	assert.Error(t, err)
}
