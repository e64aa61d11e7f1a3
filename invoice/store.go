package invoice

// ListOpts pages through counterparty listings. Results are ordered by id.
type ListOpts struct {
	Limit  int
	Offset int
}

// Window applies the options to a collection of n items and returns the
// [start, end) bounds to slice.
func (o ListOpts) Window(n int) (start, end int) {
	start = o.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = start + o.Limit
	if o.Limit <= 0 || end > n {
		end = n
	}
	return start, end
}
