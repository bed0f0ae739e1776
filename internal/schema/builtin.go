package schema

func text(name string) Field { return Field{Name: name, Type: TypeText} }
func html(name string) Field { return Field{Name: name, Type: TypeHTML} }
func url(name string) Field { return Field{Name: name, Type: TypeURL} }
func required(f Field) Field { f.Required = true; return f }
func unique(f Field) Field { f.Unique = true; return f }
func orderIndex() Field { return Field{Name: "order_index", Type: TypeInt} }
func flag(name string) Field { return Field{Name: name, Type: TypeBool} }
func tags(name string) Field { return Field{Name: name, Type: TypeTags} }
func integer(name string) Field { return Field{Name: name, Type: TypeInt} }
func email(name string) Field { return Field{Name: name, Type: TypeEmail} }
func featured(name string) Field { return Field{Name: name, Type: TypeBool, UniqueWhenTrue: true} }

// Builtin returns the collections backing the public site.
func Builtin() []*Collection {
	media := NewCollection("media_settings", List,
		required(unique(text("key"))), url("url"), text("description"))
	media.OrderBy = []Order{{Field: "key"}}

	pages := NewCollection("page_metadata", List,
		required(unique(text("page_path"))), text("title"), text("description"), url("og_image"))
	pages.OrderBy = []Order{{Field: "page_path"}}

	return []*Collection{
		NewCollection("hero_content", Singleton,
			text("name"), text("title_line1"), text("title_line2"), text("description"),
			text("bottom_left_text"), text("bottom_left_subtext")),
		NewCollection("biography_content", Singleton,
			text("name"), text("title"), text("subtitle"), text("hero_title"), text("hero_subtitle"),
			html("hero_description"), url("hero_image_url"), text("hero_quote")),
		NewCollection("biography_quotes", List,
			required(text("quote")), tags("tags"), orderIndex()),
		NewCollection("biography_milestones", List,
			integer("milestone_number"), required(text("title")), html("content"), orderIndex()),
		NewCollection("markets", List,
			required(text("name")), text("title"), text("description"), url("image_url"),
			text("year"), text("industry"), text("timeline"), html("page_content"), orderIndex()),
		NewCollection("insights", List,
			required(text("title")), text("excerpt"), html("content"), text("category"),
			url("image_url"), text("read_time"), text("author_name"), flag("published"),
			featured("is_featured")),
		NewCollection("achievements", List,
			required(text("title")), text("subtitle"), text("category"), url("image_url"), orderIndex()),
		NewCollection("charity_works", List,
			required(text("title")), text("subtitle"), text("category"), text("location"),
			text("work_date"), html("description"), url("image_url"), orderIndex()),
		NewCollection("charity_quotes", List,
			required(text("quote")), text("author_name"), text("author_title"), orderIndex()),
		NewCollection("interviews_content", Singleton,
			text("hero_title"), text("hero_subtitle"), html("hero_description"), url("hero_image_url"),
			text("philosophy_title"), text("philosophy_subtitle"),
			text("growth_title"), text("growth_subtitle")),
		NewCollection("interviews_qa", List,
			required(text("question")), html("answer"), orderIndex()),
		NewCollection("stats", List,
			required(text("value")), required(text("label")), orderIndex()),
		media,
		NewCollection("newsletter_settings", Singleton,
			text("title"), text("disclaimer"), text("button_text"), text("placeholder_text")),
		NewCollection("newsletter_subscriptions", List,
			required(unique(email("email")))),
		NewCollection("contact_settings", Singleton,
			email("receive_email"), text("title"), text("description")),
		NewCollection("contact_submissions", List,
			required(text("name")), required(email("email")), required(text("subject")),
			required(text("message"))),
		NewCollection("seo_settings", Singleton,
			text("site_name"), text("twitter_handle"), url("default_og_image"),
			text("ga_measurement_id"), text("clarity_id"), text("google_search_console_id")),
		pages,
	}
}
