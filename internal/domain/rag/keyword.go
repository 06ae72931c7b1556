package rag

import "math"

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type keywordHit struct {
	chunk   *indexedChunk
	score   float64
	matched []string
}

// keywordScores ranks every chunk containing at least one query term with
// Okapi BM25. terms should be distinct; matched terms keep query order.
func (v *indexView) keywordScores(terms []string) map[*indexedChunk]*keywordHit {
	n := v.chunkCount()
	if n == 0 || len(terms) == 0 {
		return nil
	}
	totalLen := 0
	for _, s := range v.shards {
		totalLen += s.totalLen
	}
	avgdl := float64(totalLen) / float64(n)
	if avgdl == 0 {
		avgdl = 1
	}

	hits := make(map[*indexedChunk]*keywordHit)
	for _, term := range terms {
		df := 0
		for _, s := range v.shards {
			df += len(s.postings[term])
		}
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))

		for _, s := range v.shards {
			for chunkID, tf := range s.postings[term] {
				ic := s.chunks[chunkID]
				if ic == nil {
					continue
				}
				ftf := float64(tf)
				norm := ftf + bm25K1*(1-bm25B+bm25B*float64(ic.length)/avgdl)
				h := hits[ic]
				if h == nil {
					h = &keywordHit{chunk: ic}
					hits[ic] = h
				}
				h.score += idf * ftf * (bm25K1 + 1) / norm
				h.matched = append(h.matched, term)
			}
		}
	}
	return hits
}
