package ledger

// DefaultPageSize is used when a view has no page size.
const DefaultPageSize = 10

// View is the filter and pagination state of one history screen. Changing
// any filter moves the view back to the first page.
type View struct {
	Criteria Criteria `json:"criteria"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// NewView returns a view on page 1 showing every record.
func NewView(pageSize int) View {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return View{Page: 1, PageSize: pageSize}
}

func (v View) withCriteria(c Criteria) View {
	if c != v.Criteria {
		v.Criteria = c
		v.Page = 1
	}
	return v
}

// WithKind sets the kind filter.
func (v View) WithKind(kind string) View {
	c := v.Criteria
	c.Kind = kind
	return v.withCriteria(c)
}

// WithToken sets the token filter.
func (v View) WithToken(token string) View {
	c := v.Criteria
	c.Token = token
	return v.withCriteria(c)
}

// WithStatus sets the status filter.
func (v View) WithStatus(status string) View {
	c := v.Criteria
	c.Status = status
	return v.withCriteria(c)
}

// WithSearch sets the search query.
func (v View) WithSearch(q string) View {
	c := v.Criteria
	c.Search = q
	return v.withCriteria(c)
}

// WithCriteria replaces all filters at once.
func (v View) WithCriteria(c Criteria) View {
	return v.withCriteria(c)
}

// WithPage moves to page; Apply clamps it.
func (v View) WithPage(page int) View {
	v.Page = page
	return v
}

// Page is one rendered page of a view.
type Page struct {
	Items      []Transaction `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	Filtered   int           `json:"filtered"`
	Stats      Summary       `json:"stats"`
}

// Clamp returns v with its page clamped to the pages available for count
// matching records.
func (v View) Clamp(count int) View {
	if v.PageSize < 1 {
		v.PageSize = DefaultPageSize
	}
	total := TotalPages(count, v.PageSize)
	if v.Page < 1 {
		v.Page = 1
	}
	if v.Page > total {
		v.Page = total
	}
	return v
}

// Apply filters records, clamps the page and returns it along with the
// stats of the filtered set.
func (v View) Apply(records []Transaction) Page {
	filtered := Filter(records, v.Criteria)
	v = v.Clamp(len(filtered))
	return Page{
		Items:      Paginate(filtered, v.Page, v.PageSize),
		Page:       v.Page,
		PageSize:   v.PageSize,
		TotalPages: TotalPages(len(filtered), v.PageSize),
		Filtered:   len(filtered),
		Stats:      Stats(filtered),
	}
}
