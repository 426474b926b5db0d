package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jeffconboy/statedge/internal/config"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The upstream tolerates roughly one request every two seconds before it
// starts shedding load.
const requestEvery = 2 * time.Second

type StatsAPIParam struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
}

type statsAPIClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
}

// NewStatsAPIClient builds the MLB Stats API collector.
func NewStatsAPIClient(p StatsAPIParam) Provider {
	return &statsAPIClient{
		baseURL: strings.TrimRight(p.Config.ProviderBaseURL, "/"),
		client:  &http.Client{Timeout: p.Config.ProviderTimeout},
		limiter: rate.NewLimiter(rate.Every(requestEvery), 1),
		db:      p.DB,
		log:     p.Log.Named("ingestion.provider"),
		genID:   p.GenID,
	}
}

type scheduleResponse struct {
	Dates []struct {
		Date  string           `json:"date"`
		Games []map[string]any `json:"games"`
	} `json:"dates"`
}

func (c *statsAPIClient) CollectDay(ctx context.Context, date string) (int, error) {
	var payload scheduleResponse
	err := c.get(ctx, "/schedule", url.Values{
		"sportId": {"1"},
		"date":    {date},
	}, &payload)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, day := range payload.Dates {
		for _, game := range day.Games {
			gamePk, ok := numberField(game, "gamePk")
			if !ok {
				c.log.Warn("game without gamePk, skipping", zap.String("date", day.Date))
				continue
			}
			row := statsdomain.GameLog{
				ID:       c.genID.Generate(),
				GamePk:   gamePk,
				GameDate: day.Date,
				Payload:  datatypes.JSONMap(game),
			}
			err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "game_pk"}, {Name: "game_date"}},
				DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

type playersResponse struct {
	People []struct {
		ID              int    `json:"id"`
		FullName        string `json:"fullName"`
		Active          bool   `json:"active"`
		CurrentTeam     struct {
			Name string `json:"name"`
		} `json:"currentTeam"`
		PrimaryPosition struct {
			Abbreviation string `json:"abbreviation"`
		} `json:"primaryPosition"`
	} `json:"people"`
}

func (c *statsAPIClient) CollectPlayers(ctx context.Context, season int) (int, error) {
	var payload playersResponse
	err := c.get(ctx, "/sports/1/players", url.Values{
		"season": {strconv.Itoa(season)},
	}, &payload)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, person := range payload.People {
		if person.ID == 0 || person.FullName == "" {
			continue
		}
		row := statsdomain.Player{
			ID:       c.genID.Generate(),
			MLBID:    person.ID,
			FullName: person.FullName,
			Team:     person.CurrentTeam.Name,
			Position: person.PrimaryPosition.Abbreviation,
			Active:   person.Active,
		}
		err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mlb_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"full_name", "team", "position", "active", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

type seasonStatsResponse struct {
	Stats []struct {
		Splits []struct {
			Player struct {
				ID int `json:"id"`
			} `json:"player"`
			Stat map[string]any `json:"stat"`
		} `json:"splits"`
	} `json:"stats"`
}

func (c *statsAPIClient) CollectSeasonStats(ctx context.Context, season int) (int, error) {
	written := 0
	for _, group := range []string{"hitting", "pitching"} {
		var payload seasonStatsResponse
		err := c.get(ctx, "/stats", url.Values{
			"stats":      {"season"},
			"group":      {group},
			"season":     {strconv.Itoa(season)},
			"playerPool": {"all"},
		}, &payload)
		if err != nil {
			return written, err
		}

		for _, block := range payload.Stats {
			for _, split := range block.Splits {
				if split.Player.ID == 0 {
					continue
				}
				row := statsdomain.SeasonStat{
					ID:        c.genID.Generate(),
					Season:    season,
					MLBID:     split.Player.ID,
					StatGroup: group,
					Payload:   datatypes.JSONMap(split.Stat),
				}
				err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "season"}, {Name: "mlb_id"}, {Name: "stat_group"}},
					DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
				}).Create(&row).Error
				if err != nil {
					return written, err
				}
				written++
			}
		}
	}
	return written, nil
}

func (c *statsAPIClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("upstream request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("upstream returned non-2xx",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// numberField reads an integer out of a decoded JSON object, where numbers
// arrive as float64.
func numberField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
