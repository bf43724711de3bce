package recommend

import "github.com/hitoshi/tunepick/internal/model"

// スコアリングの重み。
const (
	weightArtistLike    = 30
	weightArtistDislike = -60
	weightSongLike      = 15
	weightSongDislike   = -15
	weightGenreLike     = 20
	weightGenreDislike  = -20
	weightMoodPref      = 15
	weightMoodMatch     = 10
	weightLanguage      = 15
	weightPopularity    = 5

	moodMatchCap = 3

	scoreMin = 0
	scoreMax = 100
)

// popularityTiers は人気度区分から最低人気度しきい値への対応表。
var popularityTiers = map[string]struct{ min, max int }{
	"mainstream":   {75, 100},
	"rising":       {50, 74},
	"underground":  {25, 49},
	"undiscovered": {0, 24},
}

// Score は候補トラックを好みのスナップショットに対して採点する。
// 純粋関数であり、同じ入力に対して常に同じ値を返す。結果は[0,100]に収まる。
func Score(candidate *model.Candidate, prefs *Snapshot) int {
	score := candidate.Score
	if score == 0 {
		score = candidate.Popularity
	}
	if score == 0 {
		score = 50
	}

	// アーティストの好き/嫌い
	for _, a := range prefs.LikedArtists {
		if a.ArtistID == candidate.ArtistID {
			score += weightArtistLike
			break
		}
	}
	for _, a := range prefs.DislikedArtists {
		if a.ArtistID == candidate.ArtistID {
			score += weightArtistDislike
			break
		}
	}

	// 楽曲そのものの好き/嫌い
	trackID := candidate.TrackID()
	for _, s := range prefs.LikedSongs {
		if s.SongID == trackID {
			score += weightSongLike
			break
		}
	}
	for _, s := range prefs.DislikedSongs {
		if s.SongID == trackID {
			score += weightSongDislike
			break
		}
	}

	// ジャンルの一致: 好きな楽曲と同ジャンルなら加点、嫌いな楽曲と同ジャンルなら減点
	if candidate.Genre != "" {
		for _, s := range prefs.LikedSongs {
			if s.Genre == candidate.Genre {
				score += weightGenreLike
				break
			}
		}
		for _, s := range prefs.DislikedSongs {
			if s.Genre == candidate.Genre {
				score += weightGenreDislike
				break
			}
		}
	}

	// ムード: 優先ムードに含まれれば加点、さらに同ムードの好きな楽曲数に応じて加点
	if candidate.Mood != "" {
		for _, m := range prefs.PreferredMoods {
			if m == candidate.Mood {
				score += weightMoodPref
				break
			}
		}

		moodMatches := 0
		for _, s := range prefs.LikedSongs {
			if s.Mood == candidate.Mood {
				moodMatches++
			}
		}
		if moodMatches > moodMatchCap {
			moodMatches = moodMatchCap
		}
		score += weightMoodMatch * moodMatches
	}

	// 言語の一致
	if candidate.Language != "" {
		for _, l := range prefs.PreferredLanguages {
			if l == candidate.Language {
				score += weightLanguage
				break
			}
		}
	}

	// 人気度区分: 指定区分に収まれば倍の加点、外れれば減点
	if tier, ok := popularityTiers[prefs.Popularity]; ok {
		if candidate.Popularity >= tier.min && candidate.Popularity <= tier.max {
			score += weightPopularity * 2
		} else {
			score -= weightPopularity
		}
	}

	if score < scoreMin {
		return scoreMin
	}
	if score > scoreMax {
		return scoreMax
	}
	return score
}
