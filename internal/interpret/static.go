package interpret

import (
	"context"
	"errors"
	"sync"
)

// SheetResult is one scripted interpretation outcome.
type SheetResult struct {
	Front Page
	Back  Page
	Err   error
}

// Static is a scriptable interpreter used by the simulated scanner and by
// tests. Results are consumed in FIFO order; when the script is exhausted the
// default result repeats.
type Static struct {
	mu      sync.Mutex
	queue   []SheetResult
	Default SheetResult
}

// NewStatic returns a Static whose default result is a valid hand-marked sheet.
func NewStatic() *Static {
	return &Static{
		Default: SheetResult{
			Front: Page{Type: PageHandMarked},
			Back:  Page{Type: PageHandMarked},
		},
	}
}

// Enqueue appends scripted results.
func (s *Static) Enqueue(results ...SheetResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, results...)
}

// InterpretSheet pops the next scripted result.
func (s *Static) InterpretSheet(ctx context.Context, images SheetImages) (Page, Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, Page{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.Default
	if len(s.queue) > 0 {
		result = s.queue[0]
		s.queue = s.queue[1:]
	}
	if result.Err != nil {
		return Page{}, Page{}, result.Err
	}
	if result.Front.Type == "" || result.Back.Type == "" {
		return Page{}, Page{}, errors.New("scripted result missing page type")
	}
	return result.Front, result.Back, nil
}
