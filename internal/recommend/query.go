package recommend

import (
	"fmt"
	"strings"
)

// languageKeywords は言語ごとの検索キーワード群。OR結合で言語圏の楽曲を引き当てる。
var languageKeywords = map[string][]string{
	"en": {"english", "pop", "rock", "hip hop", "country", "rnb", "london", "british"},
	"es": {"reggaeton", "salsa", "latino", "mexicano"},
	"fr": {"français", "chanson", "rap français", "paris"},
	"de": {"deutsch", "schlager", "volksmusik", "berlin"},
	"it": {"italiano", "opera", "tarantella", "milano"},
	"pt": {"português", "samba", "fado", "brasil"},
	"ko": {"k-pop", "korean", "seoul", "ost"},
	"ja": {"j-pop", "anime", "tokyo", "j-rock"},
	"hi": {"bollywood", "indian", "desi", "hindi"},
	"ar": {"arabic", "khaleeji", "cairo", "oud"},
}

// languageMarkets は言語から検索マーケットへの対応表。
var languageMarkets = map[string]string{
	"en": "US", "es": "ES", "fr": "FR", "de": "DE", "it": "IT",
	"pt": "BR", "ko": "KR", "ja": "JP", "hi": "IN", "ar": "EG",
}

// defaultMarket は国もマーケット対応もない場合の既定マーケット。
const defaultMarket = "US"

// moodSeedWords はムードごとのシードワード群。
// 初回は全結合、スキップ時は skip mod len で1語ずつ巡回する。
var moodSeedWords = map[string][]string{
	"upbeat":   {"dance", "energetic", "party", "summer", "fun"},
	"happy":    {"bright", "cheerful", "optimistic", "sunny", "positive"},
	"sad":      {"melancholic", "emotional", "heartbreak", "reflective"},
	"relax":    {"peaceful", "calm", "serene", "chill", "ambient"},
	"intense":  {"powerful", "energy", "dynamic", "epic"},
	"romantic": {"love", "passionate", "intimate", "beautiful"},
	"dark":     {"mysterious", "deep", "atmospheric", "haunting"},
	"dreamy":   {"ethereal", "space", "surreal", "ambient"},
	"epic":     {"orchestral", "cinematic", "majestic", "grand"},
	"angry":    {"aggressive", "heavy", "rage", "tension"},
}

// variantExclusions はスキップ時に NOT 句で除外する変種語。
// floor(skip/10) mod 4 で巡回する。
var variantExclusions = [4]string{"remix", "live", "acoustic", "instrumental"}

// genreRelations はジャンルの隣接表。条件緩和の最終段で先頭の隣接ジャンルへ置き換える。
var genreRelations = map[string][]string{
	"rock":       {"alternative", "indie", "metal"},
	"pop":        {"indie", "dance", "electronic"},
	"hip-hop":    {"rap", "rnb", "trap"},
	"rnb":        {"soul", "hip-hop", "funk"},
	"electronic": {"house", "techno", "dubstep"},
	"classical":  {"orchestral", "piano", "instrumental"},
	"jazz":       {"blues", "soul", "funk"},
	"indie":      {"alternative", "folk", "rock"},
	"metal":      {"hard-rock", "punk", "thrash"},
	"folk":       {"acoustic", "country", "indie"},
	"blues":      {"jazz", "soul", "rock"},
	"country":    {"folk", "americana", "bluegrass"},
	"latin":      {"reggaeton", "salsa", "tropical"},
	"reggae":     {"dancehall", "dub", "ska"},
}

// buildQuery は検索条件から検索クエリ文字列を組み立てる。
// 言語指定がある場合は言語キーワードのOR結合にジャンル・ムードを後置する。
// それ以外はジャンルフィルタ・アーティストフィルタ・ムードシードワードを結合し、
// スキップ時は変種の除外句を付ける。何も適用できなければ "music" を返す。
func buildQuery(prefs *Snapshot, skip int) string {
	if prefs.Language != "" {
		if keywords, ok := languageKeywords[prefs.Language]; ok {
			query := strings.Join(keywords, " OR ")
			if prefs.Genre != "" {
				query += " " + prefs.Genre
			}
			if prefs.Mood != "" {
				query += " " + prefs.Mood
			}
			return query
		}
	}

	var query string

	if prefs.Genre != "" {
		query += "genre:" + prefs.Genre
	}

	if prefs.Artist != "" {
		sanitized := strings.TrimSpace(strings.NewReplacer(`'`, "", `"`, "").Replace(prefs.Artist))
		if sanitized != "" {
			query += fmt.Sprintf(` artist:"%s"`, sanitized)
		}
	}

	if seeds, ok := moodSeedWords[prefs.Mood]; ok && len(seeds) > 0 {
		var seedTerm string
		if skip > 0 {
			seedTerm = seeds[skip%len(seeds)]
		} else {
			seedTerm = strings.Join(seeds, " ")
		}
		query = seedTerm + " " + query
	}

	if skip > 0 {
		variant := variantExclusions[(skip/10)%len(variantExclusions)]
		query += " NOT " + variant
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return "music"
	}
	return query
}

// marketFor は検索マーケットを決定する。
// 保存された国コードが最優先。なければ言語からの対応表、最後に既定値。
func marketFor(country, language string) string {
	if country != "" {
		return country
	}
	if market, ok := languageMarkets[language]; ok {
		return market
	}
	return defaultMarket
}

// broaden は空振り時の条件緩和を適用する。
// retry 1で人気度条件、retry 2で言語条件を落とし、
// retry 3でジャンルを隣接ジャンルの先頭に置き換える。
func broaden(prefs *Snapshot, retry int) *Snapshot {
	broadened := prefs.clone()

	if retry >= 1 {
		broadened.Popularity = ""
	}
	if retry >= 2 {
		broadened.Language = ""
	}
	if retry >= 3 && broadened.Genre != "" {
		if related, ok := genreRelations[broadened.Genre]; ok && len(related) > 0 {
			broadened.Genre = related[0]
		} else {
			broadened.Genre = ""
		}
	}

	return broadened
}
