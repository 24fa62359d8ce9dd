package eta

import (
	"context"
	"fmt"
	"sync"

	"recoverydispatch/internal/model"
)

// TablePair is one directed entry of a Table.
type TablePair struct {
	From, To model.Coordinate
	Minutes  float64
	Miles    float64
}

// Table is a fixed lookup provider. Pairs not in the table make the whole
// call fail, and every call is counted, which makes it suitable for tests.
type Table struct {
	mu    sync.Mutex
	m     map[[2]model.Coordinate]TablePair
	calls int
	// Fallback, when set, answers pairs missing from the table.
	Fallback Provider
}

func NewTable(pairs ...TablePair) *Table {
	t := &Table{m: make(map[[2]model.Coordinate]TablePair, len(pairs))}
	for _, p := range pairs {
		t.m[[2]model.Coordinate{p.From, p.To}] = p
	}
	return t
}

// Set adds or replaces a pair.
func (t *Table) Set(from, to model.Coordinate, minutes, miles float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[[2]model.Coordinate{from, to}] = TablePair{From: from, To: to, Minutes: minutes, Miles: miles}
}

// Calls returns the number of Matrix invocations so far.
func (t *Table) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Table) Matrix(ctx context.Context, origins, destinations []model.Coordinate) (Matrix, error) {
	if err := validate(origins, destinations); err != nil {
		return Matrix{}, err
	}
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()

	out := NewMatrix(len(origins), len(destinations))
	for i, o := range origins {
		for j, d := range destinations {
			t.mu.Lock()
			p, ok := t.m[[2]model.Coordinate{o, d}]
			t.mu.Unlock()
			if ok {
				out.Minutes[i][j], out.Miles[i][j] = p.Minutes, p.Miles
				continue
			}
			if t.Fallback == nil {
				return Matrix{}, fmt.Errorf("missing pair %v -> %v", o, d)
			}
			minutes, miles, err := Pair(ctx, t.Fallback, o, d)
			if err != nil {
				return Matrix{}, err
			}
			out.Minutes[i][j], out.Miles[i][j] = minutes, miles
		}
	}
	return out, nil
}
