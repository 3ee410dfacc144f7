package fake

import (
	"fmt"
	"math/rand"

	"github.com/woozymasta/sampinfo/internal/protocol"
)

// RandomState builds a plausible randomized server state with the given number of players.
func RandomState(players int) State {
	modes := []string{"Roleplay", "Freeroam", "Deathmatch", "Race", "Cops and Robbers"}
	maps := []string{"San Andreas", "Los Santos", "San Fierro", "Las Venturas"}
	languages := []string{"English", "Portuguese", "Russian", "Spanish", "Polish"}
	nicks := []string{"CJ", "Big_Smoke", "Ryder", "Sweet", "Cesar", "Kendl", "Tenpenny", "Catalina"}

	maxPlayers := 50
	if players > maxPlayers {
		maxPlayers = players + rand.Intn(50)
	}

	state := State{
		Info: protocol.Info{
			Hostname:   fmt.Sprintf("SA-MP Server #%d [%s]", rand.Intn(1000), modes[rand.Intn(len(modes))]),
			Gamemode:   modes[rand.Intn(len(modes))],
			Mapname:    maps[rand.Intn(len(maps))],
			Players:    uint16(players),
			MaxPlayers: uint16(maxPlayers),
			Password:   rand.Float32() < 0.1,
		},
		Rules: map[string]string{
			"lagcomp":   "On",
			"language":  languages[rand.Intn(len(languages))],
			"mapname":   maps[rand.Intn(len(maps))],
			"version":   "0.3.7-R2",
			"weather":   fmt.Sprint(rand.Intn(20)),
			"weburl":    "www.sa-mp.com",
			"worldtime": fmt.Sprintf("%02d:00", rand.Intn(24)),
		},
	}

	// SA-MP stops sending the detailed list above 100 players
	if players <= 100 {
		for i := 0; i < players; i++ {
			state.Players = append(state.Players, protocol.Player{
				ID:    uint8(i),
				Name:  fmt.Sprintf("%s_%d", nicks[rand.Intn(len(nicks))], i),
				Score: int32(rand.Intn(1000)),
			})
		}
	}

	return state
}
