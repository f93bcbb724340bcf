package batch

// RowPeeker is a one-row lookahead buffer over a forward-only row reader.
//
// A source that must not split a group of rows across two batches reads past
// the page boundary while rows still belong to the group, then parks the
// first row of the next group here so the following call starts with it.
type RowPeeker struct {
	held []any
	has  bool
}

// NextFunc reads the next row. ok is false once the reader is exhausted.
type NextFunc func() (row []any, ok bool, err error)

// Pending reports whether a row is parked.
func (p *RowPeeker) Pending() bool { return p.has }

// Hold parks row for the next call to Take. It panics if a row is already
// parked, since that would silently drop data.
func (p *RowPeeker) Hold(row []any) {
	if p.has {
		panic("batch: RowPeeker already holds a row")
	}
	p.held, p.has = row, true
}

// Take returns and clears the parked row.
func (p *RowPeeker) Take() ([]any, bool) {
	if !p.has {
		return nil, false
	}
	row := p.held
	p.held, p.has = nil, false
	return row, true
}

// AddWhile reads rows from next and appends them to dst while match
// returns true. The first row that does not match is parked. It returns the
// extended dst and the number of rows appended.
func (p *RowPeeker) AddWhile(dst [][]any, next NextFunc, match func(row []any) bool) ([][]any, int, error) {
	added := 0
	for {
		row, ok, err := next()
		if err != nil {
			return dst, added, err
		}
		if !ok {
			return dst, added, nil
		}
		if !match(row) {
			p.Hold(row)
			return dst, added, nil
		}
		dst = append(dst, row)
		added++
	}
}
