package content

import "strings"

// Resolve merges a fetched row over the default record of collection. A
// blank fetched value keeps the default. A nil row yields the defaults.
func Resolve(collection string, row Row) Row {
	out := Defaults(collection)
	for k, v := range row {
		if isBlank(v) {
			if _, ok := out[k]; ok {
				continue
			}
		}
		out[k] = v
	}
	return resolveImages(out)
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// ResolveImageURL maps image paths stored against the source tree onto the
// public assets directory. Other URLs are returned unchanged.
func ResolveImageURL(url string) string {
	switch {
	case url == "":
		return ""
	case strings.HasPrefix(url, "/src/assets/"):
		return "/assets/" + strings.TrimPrefix(url, "/src/assets/")
	case strings.HasPrefix(url, "src/assets/"):
		return "/assets/" + strings.TrimPrefix(url, "src/assets/")
	}
	return url
}

func isImageField(name string) bool {
	return strings.HasSuffix(name, "image_url") || strings.HasSuffix(name, "og_image") || name == "url"
}

func resolveImages(row Row) Row {
	for k, v := range row {
		if s, ok := v.(string); ok && isImageField(k) {
			row[k] = ResolveImageURL(s)
		}
	}
	return row
}

func resolveAll(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = resolveImages(cp)
	}
	return out
}
