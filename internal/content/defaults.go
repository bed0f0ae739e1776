package content

import "portfolio-cms/internal/repository"

type Row = repository.Row

// Site-wide fallbacks used when seo_settings or page_metadata leave a value
// blank.
const (
	DefaultSiteName    = "Mohsin Salya"
	DefaultDescription = "Official website of Mohsin Salya - Visionary Entrepreneur and Global Investor."
	DefaultImage       = "/favicon.png"
	PlaceholderImage   = "/placeholder.svg"
)

// defaults holds the record shown for each singleton until an admin saves
// one, field by field.
var defaults = map[string]Row{
	"hero_content": {
		"name":                "MOHSIN SALYA",
		"title_line1":         "VISIONARY",
		"title_line2":         "ENTREPRENEUR",
		"description":         "REBUILDING STANDARDS ACROSS INDUSTRIES FROM THE FABRIC OF FASHION TO THE FOUNDATIONS OF REAL ESTATE",
		"bottom_left_text":    "GLOBAL",
		"bottom_left_subtext": "INVESTOR",
	},
	"biography_content": {
		"name":             "Mohsin Salya",
		"hero_title":       "BUILDING BUSINESSES,",
		"hero_subtitle":    "REBUILDING STANDARDS",
		"hero_description": "Business becomes meaningful when it stands for something bigger than profit, when it raises expectations and resets what’s possible",
		"hero_quote":       "Mohsin Salya",
		"hero_image_url":   "/assets/biographyhero.webp",
	},
	"interviews_content": {
		"hero_image_url": "/assets/podcast-interview.jpg",
	},
	"newsletter_settings": {
		"title":            "Join Mohsin’s circle for real stories, reflections, and insights, where resilience meets results.",
		"disclaimer":       "By subscribing, you'll receive thoughtful updates, insights, and inspiration straight to your inbox. No spam just authentic content and stories worth your time.",
		"button_text":      "Start Building",
		"placeholder_text": "Enter Your Email Address",
	},
	"contact_settings": {
		"description": "Whether you have a specific venture in mind or simply wish to explore potential synergies, I am always open to discussing new opportunities.",
	},
	"seo_settings": {
		"site_name":        DefaultSiteName,
		"default_og_image": DefaultImage,
	},
}

// Defaults returns a copy of the default record for collection, or an
// empty row when it has none.
func Defaults(collection string) Row {
	d := defaults[collection]
	out := make(Row, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
