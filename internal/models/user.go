package models

import "time"

// User is the stored account record. PasswordHash rides along in the JSON
// encoding for persistence; handlers expose explicit profile fields instead
// of serializing the struct directly.
type User struct {
	ID           int64  `json:"id" redis:"id"`
	Username     string `json:"username" redis:"username"`
	Email        string `json:"email,omitempty" redis:"email"`
	PasswordHash string `json:"password_hash,omitempty" redis:"password_hash"`

	Balance    int64 `json:"balance" redis:"balance"`
	TotalGames int   `json:"total_games" redis:"total_games"`
	TotalWins  int   `json:"total_wins" redis:"total_wins"`

	CreatedAt time.Time `json:"created_at" redis:"created_at"`
}

// WinRate returns the percentage of games won, rounded to one decimal.
func (u *User) WinRate() float64 {
	if u.TotalGames == 0 {
		return 0
	}
	rate := float64(u.TotalWins) / float64(u.TotalGames) * 100
	return float64(int(rate*10+0.5)) / 10
}
