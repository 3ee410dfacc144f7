// Package normalize maps the native results of every query backend to the
// canonical models.ServerRecord. It is the only place defaults are decided.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/woozymasta/sampinfo/internal/game"
	"github.com/woozymasta/sampinfo/internal/models"
)

// Field aliases accepted from loosely-typed backends, in priority order.
var (
	gamemodeAliases   = []string{"gamemode", "gameMode", "Gamemode", "gm", "game_type", "gametype"}
	mapnameAliases    = []string{"mapname", "mapName", "Mapname", "map", "Map"}
	playersAliases    = []string{"players", "Players", "playerCount", "player_count", "online", "playersOnline", "players_online", "pc", "numplayers"}
	maxPlayersAliases = []string{"maxplayers", "maxPlayers", "MaxPlayers", "max_players", "pm", "max"}
	passwordAliases   = []string{"password", "passworded", "Password", "pa", "locked"}
	rulesAliases      = []string{"rules", "Rules", "ru"}
	playerListAliases = []string{"playerList", "player_list", "playerlist"}
)

// Record converts a backend result into a ServerRecord tagged with the backend name.
func Record(res game.Result, backend string) models.ServerRecord {
	rec := models.ServerRecord{SourceBackend: backend, Online: true}

	switch r := res.(type) {
	case *game.SAMPResult:
		fromSAMP(&rec, r)
	case *game.A2SResult:
		fromA2S(&rec, r)
	case *game.MapResult:
		fromMap(&rec, r)
	case nil:
		rec.Online = false
	}

	if res != nil {
		rec.LatencyMs = latencyMs(res.RoundTrip())
	}

	applyDefaults(&rec)

	return rec
}

// Offline returns the record stored for a server no backend could reach.
func Offline() models.ServerRecord {
	rec := models.ServerRecord{}
	applyDefaults(&rec)

	return rec
}

func applyDefaults(rec *models.ServerRecord) {
	if rec.Hostname == "" {
		rec.Hostname = models.UnknownValue
	}
	if rec.Gamemode == "" {
		rec.Gamemode = models.UnknownValue
	}
	if rec.Mapname == "" {
		rec.Mapname = models.DefaultMapName
	}
	if rec.Rules == nil {
		rec.Rules = make(map[string]string)
	}
	if rec.Players == nil {
		rec.Players = make([]models.Player, 0)
	}
}

func fromSAMP(rec *models.ServerRecord, r *game.SAMPResult) {
	rec.Hostname = r.Info.Hostname
	rec.Gamemode = r.Info.Gamemode
	rec.Mapname = r.Info.Mapname
	rec.PlayerCount = r.Info.Players
	rec.MaxPlayers = r.Info.MaxPlayers
	rec.Passworded = r.Info.Password

	if r.Rules != nil {
		rec.Rules = make(map[string]string, len(r.Rules))
		for k, v := range r.Rules {
			rec.Rules[k] = v
		}
		// Some servers only publish the map as a rule
		if rec.Mapname == "" {
			rec.Mapname = r.Rules["mapname"]
		}
	}

	if r.Players != nil {
		rec.Players = make([]models.Player, 0, len(r.Players))
		for _, p := range r.Players {
			rec.Players = append(rec.Players, models.Player{ID: p.ID, Name: p.Name, Score: p.Score})
		}
	}
}

func fromA2S(rec *models.ServerRecord, r *game.A2SResult) {
	if r.Info == nil {
		return
	}

	rec.Hostname = r.Info.Name
	rec.Gamemode = r.Info.Game
	rec.Mapname = r.Info.Map
	rec.PlayerCount = uint16(r.Info.Players)
	rec.MaxPlayers = uint16(r.Info.MaxPlayers)
	rec.Rules = map[string]string{
		"version": r.Info.Version,
		"os":      r.Info.Environment.String(),
	}
}

func fromMap(rec *models.ServerRecord, r *game.MapResult) {
	f := r.Fields

	rec.Hostname = r.Hostname()
	rec.Gamemode = lookupString(f, gamemodeAliases)
	rec.Mapname = lookupString(f, mapnameAliases)
	rec.PlayerCount = lookupUint16(f, playersAliases)
	rec.MaxPlayers = lookupUint16(f, maxPlayersAliases)
	rec.Passworded = lookupBool(f, passwordAliases)

	for _, key := range rulesAliases {
		if m, ok := f[key].(map[string]any); ok {
			rec.Rules = make(map[string]string, len(m))
			for k, v := range m {
				rec.Rules[k] = toString(v)
			}
			break
		}
	}

	for _, key := range playerListAliases {
		list, ok := f[key].([]any)
		if !ok {
			continue
		}
		rec.Players = make([]models.Player, 0, len(list))
		for i, item := range list {
			switch p := item.(type) {
			case string:
				rec.Players = append(rec.Players, models.Player{ID: uint8(i), Name: p})
			case map[string]any:
				id, ok := toInt(p["id"])
				if !ok {
					id = int64(i)
				}
				score, _ := toInt(p["score"])
				rec.Players = append(rec.Players, models.Player{
					ID:    uint8(clamp(id, 0, math.MaxUint8)),
					Name:  lookupString(p, []string{"name", "Name", "nickname"}),
					Score: int32(clamp(score, math.MinInt32, math.MaxInt32)),
				})
			}
		}
		break
	}
}

func lookupString(f map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := f[key]; ok && v != nil {
			if s := toString(v); s != "" {
				return s
			}
		}
	}

	return ""
}

func lookupUint16(f map[string]any, keys []string) uint16 {
	for _, key := range keys {
		if n, ok := toInt(f[key]); ok {
			return uint16(clamp(n, 0, math.MaxUint16))
		}
	}

	return 0
}

func lookupBool(f map[string]any, keys []string) bool {
	for _, key := range keys {
		switch v := f[key].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		case float64:
			return v != 0
		}
	}

	return false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}

func latencyMs(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms <= 0 && d > 0 {
		ms = 1
	}

	return uint32(clamp(ms, 0, math.MaxUint32))
}
