// Package similarity classifies unit pairs as exact, semantic, or
// structural duplicates and groups them with union-find, fusing four
// complementary measures: normalized-hash equality, embedding cosine
// similarity, token-Jaccard overlap, and structural-keyword Jaccard
// overlap.
package similarity

import (
	"context"
	"fmt"
	"sort"

	"codeintel/internal/embedding"
	"codeintel/internal/logging"
	"codeintel/internal/model"
	"codeintel/internal/vectorstore"

	"github.com/google/uuid"
)

// Thresholds holds the three classification knobs and the neighbor pool
// size; these are the only similarity knobs callers may tune.
type Thresholds struct {
	Exact         float64
	Semantic      float64
	Structural    float64
	TopKNeighbors int
}

// Pair reports the four similarity components computed between two
// units, before classification.
type Pair struct {
	UnitA, UnitB string
	Exact        bool
	Cosine       float64
	TokenJaccard float64
	Structural   float64
}

// Classify applies the classification rule: exact beats semantic beats
// structural, tie-broken by DuplicateType.Rank.
func Classify(p Pair, t Thresholds) (model.DuplicateType, float64, bool) {
	if p.Exact {
		return model.DuplicateExact, 1.0, true
	}
	if p.Cosine >= t.Semantic {
		return model.DuplicateSemantic, p.Cosine, true
	}
	if p.Structural >= t.Structural {
		return model.DuplicateStructural, p.Structural, true
	}
	return "", 0, false
}

// ComparePair computes every similarity component between two units.
// embA/embB may be the zero Embedding when a vector is unavailable; the
// cosine component is then 0 and the caller should rely on exact and
// structural measures alone (degraded mode).
func ComparePair(a, b model.Unit, embA, embB model.Embedding) Pair {
	p := Pair{
		UnitA: a.UnitID,
		UnitB: b.UnitID,
		Exact: a.NormalizedHash != "" && a.NormalizedHash == b.NormalizedHash,
	}

	if len(embA.Vector) > 0 && len(embB.Vector) > 0 {
		if cos, err := embedding.CosineSimilarity(embA.Vector, embB.Vector); err == nil {
			p.Cosine = cos
		}
	}

	p.TokenJaccard = jaccardMultiset(TokenSet(a.NormalizedText), TokenSet(b.NormalizedText))
	p.Structural = jaccardMultiset(StructuralTokens(a.NormalizedText), StructuralTokens(b.NormalizedText))
	return p
}

// Engine builds duplicate reports over a project's units, using a
// vector store to retrieve each unit's nearest-neighbor candidates
// instead of comparing every pair.
type Engine struct {
	store      *vectorstore.Store
	thresholds Thresholds
}

// NewEngine builds a similarity Engine backed by store.
func NewEngine(store *vectorstore.Store, thresholds Thresholds) *Engine {
	if thresholds.TopKNeighbors <= 0 {
		thresholds.TopKNeighbors = 20
	}
	return &Engine{store: store, thresholds: thresholds}
}

// Report is the outcome of a duplicate-detection pass.
type Report struct {
	Groups   []model.DuplicateGroup
	Degraded bool // true when embeddings were missing and only exact+structural ran
}

// DetectDuplicates builds a classified duplicate report over units. It
// retrieves each unit's top-K nearest neighbors from the vector store
// (filtered to a different file), classifies every candidate pair, and
// unions pairs crossing their threshold into groups. Missing embeddings
// degrade the engine to exact + structural comparison against every
// other unit in the same file, since there is no vector to drive kNN
// candidate retrieval — the engine still terminates and reports the
// degradation.
func (e *Engine) DetectDuplicates(ctx context.Context, units []model.Unit, embeddings map[string]model.Embedding) (Report, error) {
	timer := logging.StartTimer(logging.CategorySimilarity, "DetectDuplicates")
	defer timer.Stop()

	byID := make(map[string]model.Unit, len(units))
	for _, u := range units {
		byID[u.UnitID] = u
	}

	uf := newUnionFind()
	pairSim := make(map[string]float64)
	degraded := false

	for _, u := range units {
		emb, hasEmb := embeddings[u.UnitID]
		var candidates []string

		if hasEmb && e.store != nil {
			neighbors, err := e.store.KNN(ctx, emb.Vector, e.thresholds.TopKNeighbors, vectorstore.Filter{})
			if err != nil {
				return Report{}, fmt.Errorf("knn for unit %s: %w", u.UnitID, err)
			}
			for _, n := range neighbors {
				if n.UnitID == u.UnitID || n.FilePath == u.FilePath {
					continue
				}
				candidates = append(candidates, n.UnitID)
			}
		} else {
			degraded = true
			for _, other := range units {
				if other.UnitID != u.UnitID && other.FilePath == u.FilePath {
					candidates = append(candidates, other.UnitID)
				}
			}
		}

		for _, candidateID := range candidates {
			other, ok := byID[candidateID]
			if !ok {
				continue
			}
			pair := ComparePair(u, other, emb, embeddings[candidateID])
			_, sim, ok := Classify(pair, e.thresholds)
			if !ok {
				continue
			}
			key := groupKey(u.UnitID, candidateID)
			if existing, seen := pairSim[key]; !seen || sim > existing {
				pairSim[key] = sim
			}
			uf.union(u.UnitID, candidateID)
		}
	}

	groups := buildGroups(uf, byID, pairSim, e.thresholds)
	return Report{Groups: groups, Degraded: degraded}, nil
}

func groupKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func buildGroups(uf *unionFind, byID map[string]model.Unit, pairSim map[string]float64, t Thresholds) []model.DuplicateGroup {
	members := uf.groups()
	var groups []model.DuplicateGroup

	for _, ids := range members {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)

		groupType, meanSim := classifyGroup(ids, byID, pairSim, t)
		rep := representative(ids, pairSim)

		estimatedSaved := 0
		for _, id := range ids {
			if id == rep {
				continue
			}
			estimatedSaved += int(float64(byID[id].LineCount()) * 0.7)
		}

		groups = append(groups, model.DuplicateGroup{
			GroupID:             uuid.NewString(),
			Type:                groupType,
			Similarity:          meanSim,
			Members:             ids,
			RepresentativeUnit:  rep,
			EstimatedLinesSaved: estimatedSaved,
			ConsolidationHint:   consolidationHint(ids, byID),
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupID < groups[j].GroupID })
	return groups
}

// classifyGroup re-derives the group's overall type from its strongest
// pairwise classification and reports the mean intra-group similarity.
func classifyGroup(ids []string, byID map[string]model.Unit, pairSim map[string]float64, t Thresholds) (model.DuplicateType, float64) {
	bestRank := -1
	var bestType model.DuplicateType
	var sum float64
	var count int

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			sim, ok := pairSim[groupKey(ids[i], ids[j])]
			if !ok {
				continue
			}
			sum += sim
			count++

			a, b := byID[ids[i]], byID[ids[j]]
			pair := Pair{Exact: a.NormalizedHash != "" && a.NormalizedHash == b.NormalizedHash, Cosine: sim, Structural: sim}
			dupType, _, ok := Classify(pair, t)
			if ok && dupType.Rank() > bestRank {
				bestRank = dupType.Rank()
				bestType = dupType
			}
		}
	}

	mean := 0.0
	if count > 0 {
		mean = sum / float64(count)
	}
	if bestType == "" {
		bestType = model.DuplicateStructural
	}
	return bestType, mean
}

// representative picks the member with the highest mean similarity to
// every other member of its group (highest centrality).
func representative(ids []string, pairSim map[string]float64) string {
	best := ids[0]
	bestScore := -1.0
	for _, candidate := range ids {
		var sum float64
		var count int
		for _, other := range ids {
			if other == candidate {
				continue
			}
			if sim, ok := pairSim[groupKey(candidate, other)]; ok {
				sum += sim
				count++
			}
		}
		score := 0.0
		if count > 0 {
			score = sum / float64(count)
		}
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

// consolidationHint picks a rule-based suggestion from group size,
// language, and whether any member is a class.
func consolidationHint(ids []string, byID map[string]model.Unit) string {
	hasClass := false
	lang := model.LangUnknown
	for _, id := range ids {
		u := byID[id]
		if u.Kind == model.KindClass {
			hasClass = true
		}
		if lang == model.LangUnknown {
			lang = u.Language
		}
	}

	switch {
	case hasClass:
		return "extract a shared base type and delegate the common members"
	case len(ids) > 4:
		return fmt.Sprintf("extract a shared %s helper used by all %d call sites", lang, len(ids))
	default:
		return "extract a shared helper function"
	}
}
