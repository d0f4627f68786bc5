package recommend

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Similarity holds pairwise cosine similarity between the users of a Matrix.
type Similarity struct {
	users   []int
	userIdx map[int]int
	data    *mat.SymDense // nil when there are no users
}

// neighbor is another user with a positive similarity to the target.
type neighbor struct {
	row        int
	userID     int
	similarity float64
}

// ComputeSimilarity computes sim(u,v) = dot(u,v) / (|u|·|v|) for every pair
// of rows of m. Pairs involving an all-zero row get 0. The diagonal is 1 for
// non-empty rows and 0 otherwise; callers must not read it as a neighbor.
//
// Rows are computed concurrently by up to workers goroutines (GOMAXPROCS when
// workers <= 0). Each goroutine owns its row buffer, so the merge is
// deterministic.
func ComputeSimilarity(m *Matrix, workers int) *Similarity {
	s := &Similarity{
		users:   m.users,
		userIdx: m.userIdx,
	}
	n := len(m.users)
	if n == 0 {
		return s
	}
	s.data = mat.NewSymDense(n, nil)
	if m.data == nil {
		return s
	}

	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		norms[i] = mat.Norm(m.rowView(i), 2)
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// rows[i][k] holds sim(i, i+k)
	rows := make([][]float64, n)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			row := make([]float64, n-i)
			a := m.rowView(i)
			for j := i; j < n; j++ {
				row[j-i] = cosine(mat.Dot(a, m.rowView(j)), norms[i], norms[j])
			}
			rows[i] = row
			return nil
		})
	}
	_ = g.Wait()

	for i, row := range rows {
		for k, v := range row {
			s.data.SetSym(i, i+k, v)
		}
	}
	return s
}

func cosine(dot, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (normA * normB)
	// rounding can push parallel vectors slightly past 1
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// At returns sim(u, v). ok is false when either user is unknown.
func (s *Similarity) At(u, v int) (sim float64, ok bool) {
	i, ok := s.userIdx[u]
	if !ok {
		return 0, false
	}
	j, ok := s.userIdx[v]
	if !ok {
		return 0, false
	}
	return s.data.At(i, j), true
}

// Users returns the user ids indexing both axes, ascending.
func (s *Similarity) Users() []int {
	return append([]int(nil), s.users...)
}

// neighbors returns every user other than userID with positive similarity,
// ordered by user id. The target's own entry is never included.
func (s *Similarity) neighbors(userID int) []neighbor {
	i, ok := s.userIdx[userID]
	if !ok || s.data == nil {
		return nil
	}
	var out []neighbor
	for j, other := range s.users {
		if j == i {
			continue
		}
		if sim := s.data.At(i, j); sim > 0 {
			out = append(out, neighbor{row: j, userID: other, similarity: sim})
		}
	}
	return out
}
