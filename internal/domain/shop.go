package domain

import (
	"regexp"
	"strings"
)

// Shopify shop domains are {name}.myshopify.com, where the name starts with an
// alphanumeric character and may contain hyphens.
var shopDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

// ValidShopDomain reports whether shop is a well-formed myshopify domain.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

// SanitizeShopDomain normalizes a shop parameter to a bare domain: strips the
// scheme and any trailing slash. Anything that does not then match the
// myshopify pattern is rejected; a bare shop name is not completed to a
// domain, the caller must send the full one.
func SanitizeShopDomain(shop string) (string, bool) {
	shop = strings.TrimSpace(shop)
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimSuffix(shop, "/")
	if !ValidShopDomain(shop) {
		return "", false
	}
	return shop, true
}
