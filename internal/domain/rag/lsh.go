package rag

import (
	"math/rand/v2"
	"sort"
)

// hyperplanes is a seeded random-hyperplane LSH family for cosine
// similarity. Each table hashes a vector to a bits-wide signature, one bit
// per hyperplane side. The same seed always yields the same planes.
type hyperplanes struct {
	bits   int
	planes [][][]float32 // [table][bit][dim]
}

func newHyperplanes(tables, bits, dims int, seed int64) *hyperplanes {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	h := &hyperplanes{bits: bits, planes: make([][][]float32, tables)}
	for t := range h.planes {
		h.planes[t] = make([][]float32, bits)
		for b := range h.planes[t] {
			p := make([]float32, dims)
			for d := range p {
				p[d] = float32(rng.NormFloat64())
			}
			h.planes[t][b] = p
		}
	}
	return h
}

func (h *hyperplanes) signatures(vec []float32) []uint64 {
	if h == nil {
		return nil
	}
	sigs := make([]uint64, len(h.planes))
	for t, planes := range h.planes {
		var sig uint64
		for b, p := range planes {
			if dot(p, vec) >= 0 {
				sig |= 1 << uint(b)
			}
		}
		sigs[t] = sig
	}
	return sigs
}

// ── Vector search ────────────────────────────────────────────

type vectorHit struct {
	chunk *indexedChunk
	score float64
}

// nearest returns the k chunks most similar to query, best first.
//
// With at most ExactSearchLimit vectors the scan is exact. Above it, LSH
// buckets of the query signature and its Hamming-distance-1 neighbours in
// every table propose candidates that are scored exactly; a chunk no table
// collides with can be missed, which is the accuracy traded for speed. When
// fewer than k candidates turn up, an exact scan fills the result.
func (v *indexView) nearest(query []float32, k int) []vectorHit {
	if k <= 0 || v.ix.cfg.Dims == 0 || len(query) != v.ix.cfg.Dims {
		return nil
	}
	q := unitVector(query)

	total := v.vectorCount()
	if total == 0 {
		return nil
	}
	if total <= v.ix.cfg.ExactSearchLimit {
		return v.exactNearest(q, k)
	}

	hits := v.approxNearest(q)
	if len(hits) < k {
		return v.exactNearest(q, k)
	}
	return topHits(hits, k)
}

func (v *indexView) exactNearest(q []float32, k int) []vectorHit {
	hits := make([]vectorHit, 0, v.vectorCount())
	for _, s := range v.shards {
		for _, ic := range s.chunks {
			if ic.vector != nil {
				hits = append(hits, vectorHit{chunk: ic, score: dot(q, ic.vector)})
			}
		}
	}
	return topHits(hits, k)
}

func (v *indexView) approxNearest(q []float32) []vectorHit {
	sigs := v.ix.lsh.signatures(q)
	seen := make(map[*indexedChunk]struct{})
	var hits []vectorHit

	probe := func(t int, sig uint64) {
		for _, s := range v.shards {
			for _, ic := range s.buckets[t][sig] {
				if _, ok := seen[ic]; ok {
					continue
				}
				seen[ic] = struct{}{}
				hits = append(hits, vectorHit{chunk: ic, score: dot(q, ic.vector)})
			}
		}
	}

	for t, sig := range sigs {
		probe(t, sig)
		for b := 0; b < v.ix.lsh.bits; b++ {
			probe(t, sig^(1<<uint(b)))
		}
	}
	return hits
}

// similarity scores one chunk against query; 0 when it has no vector.
func (v *indexView) similarity(q []float32, ic *indexedChunk) float64 {
	if ic == nil || ic.vector == nil || len(q) != len(ic.vector) {
		return 0
	}
	return dot(q, ic.vector)
}

func topHits(hits []vectorHit, k int) []vectorHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].chunk.id < hits[j].chunk.id
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
