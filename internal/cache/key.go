package cache

import "strings"

const (
	DomainAdmin        = "admin"
	DomainPublic       = "public"
	DomainPageMetadata = "page-metadata"
)

// Key identifies one cached read. An empty component acts as a wildcard
// when the key is used for invalidation.
type Key struct {
	Domain        string
	Collection    string
	Discriminator string
}

func Admin(collection string) Key { return Key{Domain: DomainAdmin, Collection: collection} }

func Public(collection string) Key { return Key{Domain: DomainPublic, Collection: collection} }

// PageMetadata keys the metadata row of one page path.
func PageMetadata(path string) Key {
	return Key{Domain: DomainPageMetadata, Collection: "page_metadata", Discriminator: path}
}

// Collection matches every cached read of collection in any domain.
func Collection(collection string) Key { return Key{Collection: collection} }

// With returns k narrowed by discriminator.
func (k Key) With(discriminator string) Key {
	k.Discriminator = discriminator
	return k
}

func (k Key) String() string {
	parts := []string{k.Domain, k.Collection}
	if k.Discriminator != "" {
		parts = append(parts, k.Discriminator)
	}
	return strings.Join(parts, "/")
}

// Covers reports whether invalidating k must also invalidate other.
func (k Key) Covers(other Key) bool {
	return (k.Domain == "" || k.Domain == other.Domain) &&
		(k.Collection == "" || k.Collection == other.Collection) &&
		(k.Discriminator == "" || k.Discriminator == other.Discriminator)
}
