// Package tenant derives a tenant slug from request host or header context.
package tenant

import (
	"errors"
	"net"
	"strings"
)

// ErrRootDomainRequired is returned when production host resolution is
// attempted without a configured root domain. Resolution fails closed
// rather than guessing.
var ErrRootDomainRequired = errors.New("root domain not configured")

// Resolver maps hostnames to tenant slugs.
type Resolver struct {
	rootDomain string
}

func NewResolver(rootDomain string) *Resolver {
	return &Resolver{rootDomain: strings.ToLower(rootDomain)}
}

// Resolve returns the tenant slug for a request. An explicit tenant header
// wins over host derivation, supporting same-origin API proxying where the
// browser host differs from the tenant. An empty slug means no tenant.
func (r *Resolver) Resolve(host, explicitSlug string) (string, error) {
	if explicitSlug != "" {
		return strings.ToLower(strings.TrimSpace(explicitSlug)), nil
	}
	return r.resolveHost(host)
}

func (r *Resolver) resolveHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", nil
	}

	// Strip port if present.
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	// Dev: tenant.localhost
	if host == "localhost" {
		return "", nil
	}
	if suffix := ".localhost"; strings.HasSuffix(host, suffix) {
		return strings.TrimSuffix(host, suffix), nil
	}

	// Preview: tenant---deployment.vercel.app
	if suffix := ".vercel.app"; strings.HasSuffix(host, suffix) {
		label := strings.TrimSuffix(host, suffix)
		if i := strings.Index(label, "---"); i >= 0 {
			label = label[:i]
		}
		return label, nil
	}

	// Production: tenant.<rootDomain>
	if r.rootDomain == "" {
		return "", ErrRootDomainRequired
	}
	if host == r.rootDomain {
		return "", nil
	}
	if suffix := "." + r.rootDomain; strings.HasSuffix(host, suffix) {
		sub := strings.TrimSuffix(host, suffix)
		// Nested subdomains are not tenants.
		if strings.Contains(sub, ".") {
			return "", nil
		}
		return sub, nil
	}

	return "", nil
}
