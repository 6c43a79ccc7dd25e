package pattern

import (
	"sort"
	"strings"
)

// LevenshteinDistance 計算兩字串的編輯距離
func LevenshteinDistance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // 刪除
				curr[j-1]+1,    // 插入
				prev[j-1]+cost, // 替換
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// SimilarityRatio 計算相似度比例 1 - distance/maxLen，
// 相同字串為 1.0，完全不同為 0.0
func SimilarityRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	distance := LevenshteinDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

// stem 簡單的字根正規化：去除常見複數字尾與縮寫句點
func stem(text string) string {
	text = strings.TrimSuffix(text, ".")
	switch {
	case strings.HasSuffix(text, "ies") && len(text) > 4:
		return text[:len(text)-3] + "y"
	case strings.HasSuffix(text, "oes") && len(text) > 4:
		return text[:len(text)-2]
	case strings.HasSuffix(text, "es") && len(text) > 3:
		return text[:len(text)-2]
	case strings.HasSuffix(text, "s") && len(text) > 2:
		return text[:len(text)-1]
	}
	return text
}

// blockKey 分桶鍵：前兩個字符。短字串自成一桶。
func blockKey(text string) string {
	runes := []rune(text)
	if len(runes) < 2 {
		return text
	}
	return string(runes[:2])
}

// IndexConfig 相似度索引設定
type IndexConfig struct {
	Threshold     float64
	MaxCandidates int
}

// BuildSimilarityIndex 為每個樣式計算同種類的相近樣式候選。
// 僅供操作者參考，不會自動合併。
// 先以前綴與字根分桶避免 P^2 全比對。
func BuildSimilarityIndex(groups []Group, cfg IndexConfig) map[string][]string {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 5
	}

	// 分桶：同桶才比較
	buckets := make(map[string][]int)
	addToBucket := func(key string, idx int) {
		for _, existing := range buckets[key] {
			if existing == idx {
				return
			}
		}
		buckets[key] = append(buckets[key], idx)
	}
	for i, group := range groups {
		prefix := string(group.Kind) + "|" + blockKey(group.CanonicalText)
		stemKey := string(group.Kind) + "#" + stem(group.CanonicalText)
		addToBucket(prefix, i)
		addToBucket(stemKey, i)
	}

	type candidate struct {
		id    string
		ratio float64
	}
	found := make(map[string]map[string]float64, len(groups))

	for _, indexes := range buckets {
		for x := 0; x < len(indexes); x++ {
			for y := x + 1; y < len(indexes); y++ {
				gi, gj := groups[indexes[x]], groups[indexes[y]]
				if gi.Kind != gj.Kind || gi.ID == gj.ID {
					continue
				}

				ratio := SimilarityRatio(gi.CanonicalText, gj.CanonicalText)
				sameStem := stem(gi.CanonicalText) == stem(gj.CanonicalText)
				if ratio < cfg.Threshold && !sameStem {
					continue
				}
				if sameStem && ratio < cfg.Threshold {
					// 同字根但距離較遠時仍列入，以涵蓋複數與縮寫變形
					ratio = cfg.Threshold
				}

				recordCandidate(found, gi.ID, gj.ID, ratio)
				recordCandidate(found, gj.ID, gi.ID, ratio)
			}
		}
	}

	index := make(map[string][]string, len(found))
	for id, matches := range found {
		candidates := make([]candidate, 0, len(matches))
		for otherID, ratio := range matches {
			candidates = append(candidates, candidate{id: otherID, ratio: ratio})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].ratio != candidates[j].ratio {
				return candidates[i].ratio > candidates[j].ratio
			}
			return candidates[i].id < candidates[j].id
		})
		if len(candidates) > cfg.MaxCandidates {
			candidates = candidates[:cfg.MaxCandidates]
		}
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.id)
		}
		index[id] = ids
	}
	return index
}

func recordCandidate(found map[string]map[string]float64, id, otherID string, ratio float64) {
	matches, ok := found[id]
	if !ok {
		matches = make(map[string]float64)
		found[id] = matches
	}
	if ratio > matches[otherID] {
		matches[otherID] = ratio
	}
}

// AttachSimilarities 把索引結果寫回群組
func AttachSimilarities(groups []Group, index map[string][]string) {
	for i := range groups {
		groups[i].SimilarGroupIDs = index[groups[i].ID]
	}
}
