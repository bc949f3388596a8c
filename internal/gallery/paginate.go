package gallery

// Page is one page of the image browser.
type Page struct {
	Number  int
	PerPage int
	Total   int
	Pages   int
	Offset  int
	Images  []Image
	Rows    [][]Image
}

func (p Page) HasPrev() bool { return p.Number > 1 }
func (p Page) HasNext() bool { return p.Number < p.Pages }
func (p Page) Prev() int     { return p.Number - 1 }
func (p Page) Next() int     { return p.Number + 1 }

// First and Last are the 1-based positions of the page's images.
func (p Page) First() int {
	if len(p.Images) == 0 {
		return 0
	}
	return p.Offset + 1
}

func (p Page) Last() int { return p.Offset + len(p.Images) }

// Paginate slices images into page number (1-based, clamped) of perPage
// items and groups it into rows of perRow.
func Paginate(images []Image, number, perPage, perRow int) Page {
	if perPage <= 0 {
		perPage = 9
	}
	pages := (len(images) + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	if number < 1 {
		number = 1
	}
	if number > pages {
		number = pages
	}
	offset := (number - 1) * perPage
	end := min(offset+perPage, len(images))
	items := images[offset:end]
	return Page{
		Number:  number,
		PerPage: perPage,
		Total:   len(images),
		Pages:   pages,
		Offset:  offset,
		Images:  items,
		Rows:    Group(items, perRow),
	}
}

// Group splits images into rows of n. The last row may be shorter.
func Group(images []Image, n int) [][]Image {
	if n <= 0 {
		n = 3
	}
	var rows [][]Image
	for start := 0; start < len(images); start += n {
		rows = append(rows, images[start:min(start+n, len(images))])
	}
	return rows
}
