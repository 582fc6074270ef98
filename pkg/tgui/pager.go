package tgui

import "fmt"

// Page is one window of a paginated list.
type Page[T any] struct {
	Items []T
	Index int // 0-based
	Count int // number of pages, at least 1
	From  int // 1-based position of Items[0]; 0 when empty
	To    int
	Total int
}

func (p Page[T]) HasPrev() bool { return p.Index > 0 }
func (p Page[T]) HasNext() bool { return p.Index < p.Count-1 }

// Label renders "Page 2/3 · 9–16 of 20".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d · %d–%d of %d", p.Index+1, p.Count, p.From, p.To, p.Total)
}

// Paginate cuts items into pages of size (10 when size <= 0) and returns
// page index, clamped into range.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	count := max(1, (total+size-1)/size)
	index = min(max(index, 0), count-1)
	start := index * size
	end := min(start+size, total)
	p := Page[T]{Items: items[start:end], Index: index, Count: count, Total: total, To: end}
	if end > start {
		p.From = start + 1
	}
	return p
}
