// Package domain contains persistence models for collected baseball data.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Player is a reference row for one MLB player.
type Player struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	MLBID     int          `gorm:"column:mlb_id;not null;uniqueIndex" json:"mlb_id"`
	FullName  string       `gorm:"type:text;not null;index" json:"full_name"`
	Team      string       `gorm:"type:text" json:"team"`
	Position  string       `gorm:"type:text" json:"position"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Player) TableName() string { return "players" }

// GameLog stores the raw provider payload for one game on one date. The
// unique key over (game_pk, game_date) deduplicates re-collected days.
type GameLog struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	GamePk    int               `gorm:"column:game_pk;not null;uniqueIndex:idx_game_logs_pk_date" json:"game_pk"`
	GameDate  string            `gorm:"type:text;not null;uniqueIndex:idx_game_logs_pk_date" json:"game_date"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (GameLog) TableName() string { return "game_logs" }

// SeasonStat stores one player's aggregated line for a season and stat group.
type SeasonStat struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Season    int               `gorm:"not null;uniqueIndex:idx_season_stats_key" json:"season"`
	MLBID     int               `gorm:"column:mlb_id;not null;uniqueIndex:idx_season_stats_key" json:"mlb_id"`
	StatGroup string            `gorm:"type:text;not null;uniqueIndex:idx_season_stats_key" json:"stat_group"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (SeasonStat) TableName() string { return "season_stats" }
