package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveExplicitHeaderWins(t *testing.T) {
	r := NewResolver("docskit.io")

	slug, err := r.Resolve("other.docskit.io", "acme")
	assert.NoError(t, err)
	assert.Equal(t, "acme", slug)

	slug, err = r.Resolve("", " Acme ")
	assert.NoError(t, err)
	assert.Equal(t, "acme", slug)
}

func TestResolveHost(t *testing.T) {
	r := NewResolver("docskit.io")

	tests := []struct {
		host string
		want string
	}{
		{"acme.localhost", "acme"},
		{"acme.localhost:3000", "acme"},
		{"localhost", ""},
		{"localhost:3000", ""},
		{"acme.vercel.app", "acme"},
		{"acme---git-main-preview.vercel.app", "acme"},
		{"acme.docskit.io", "acme"},
		{"acme.docskit.io:443", "acme"},
		{"docskit.io", ""},
		{"www.api.docskit.io", ""},
		{"unrelated.example.com", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			slug, err := r.Resolve(tt.host, "")
			assert.NoError(t, err)
			assert.Equal(t, tt.want, slug)
		})
	}
}

func TestResolveFailsClosedWithoutRootDomain(t *testing.T) {
	r := NewResolver("")

	// Dev and preview shapes still resolve.
	slug, err := r.Resolve("acme.localhost", "")
	assert.NoError(t, err)
	assert.Equal(t, "acme", slug)

	// Production shapes must error instead of guessing.
	_, err = r.Resolve("acme.docskit.io", "")
	assert.ErrorIs(t, err, ErrRootDomainRequired)
}
