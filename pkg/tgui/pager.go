package tgui

import "fmt"

// PageCount returns ceil(total/size); 0 when there is nothing to show.
func PageCount(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// PaginateSlice returns the sub-slice for a 0-based page plus prev/next flags.
// hasNext follows page < PageCount-1, so an out-of-range page yields an empty
// slice with hasNext=false.
func PaginateSlice[T any](items []T, page, size int) (sub []T, hasPrev bool, hasNext bool) {
	if size <= 0 {
		size = 10
	}
	if page < 0 {
		page = 0
	}
	total := len(items)
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return items[start:end], page > 0, page < PageCount(total, size)-1
}

// PageLabel returns a compact pagination label. page is 0-based.
func PageLabel(page, size, total int) string {
	pages := PageCount(total, size)
	if pages == 0 {
		return "Page 1/1"
	}
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	from := page*size + 1
	to := (page + 1) * size
	if to > total {
		to = total
	}
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", page+1, pages, from, to, total)
}
