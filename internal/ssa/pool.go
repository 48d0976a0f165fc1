package ssa

const poolPageSize = 128

// pool hands out stable pointers to T in pages, so allocating an instruction never moves the others.
type pool[T any] struct {
	pages            []*[poolPageSize]T
	allocated, index int
}

func newPool[T any]() pool[T] {
	return pool[T]{index: poolPageSize}
}

// allocate returns a zeroed T.
func (p *pool[T]) allocate() *T {
	if p.index == poolPageSize {
		p.pages = append(p.pages, new([poolPageSize]T))
		p.index = 0
	}
	ret := &p.pages[len(p.pages)-1][p.index]
	p.index++
	p.allocated++
	return ret
}

// view returns the i-th allocated T.
func (p *pool[T]) view(i int) *T {
	return &p.pages[i/poolPageSize][i%poolPageSize]
}
