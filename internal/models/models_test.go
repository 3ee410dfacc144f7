package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 127.0.0.1 ", 7777)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7777", addr.Key())
	require.True(t, addr.IsLiteral())

	addr, err = ParseAddress("Play.Example.ORG.", 7777)
	require.NoError(t, err)
	require.Equal(t, "play.example.org:7777", addr.Key())
	require.False(t, addr.IsLiteral())

	_, err = ParseAddress("localhost", 1)
	require.NoError(t, err)

	for _, tc := range []struct {
		host string
		port int
	}{
		{"", 7777},
		{"127.0.0.1", 0},
		{"127.0.0.1", 65536},
		{"300.1.1.1", 7777},
		{"::1", 7777},
		{"bad_host!.com", 7777},
		{"nodots", 7777},
	} {
		_, err := ParseAddress(tc.host, tc.port)
		require.ErrorIs(t, err, ErrInvalidAddress, tc.host)
	}

	_, err = ParseAddressString("127.0.0.1", "abc")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestInferStatus(t *testing.T) {
	rec := &ServerRecord{Online: true}

	require.Equal(t, StatusOffline, InferStatus(nil, 0))
	require.Equal(t, StatusOffline, InferStatus(&ServerRecord{}, 10*time.Millisecond))
	require.Equal(t, StatusOnline, InferStatus(rec, 120*time.Millisecond))
	require.Equal(t, StatusUnstable, InferStatus(rec, 450*time.Millisecond))
}

func TestQuality(t *testing.T) {
	require.Equal(t, "unavailable", Quality(0))
	require.Equal(t, "excellent", Quality(20*time.Millisecond))
	require.Equal(t, "good", Quality(80*time.Millisecond))
	require.Equal(t, "fair", Quality(150*time.Millisecond))
	require.Equal(t, "poor", Quality(250*time.Millisecond))
	require.Equal(t, "bad", Quality(time.Second))
}

func TestCloneIsDeep(t *testing.T) {
	rec := ServerRecord{
		Rules:   map[string]string{"weather": "10"},
		Players: []Player{{ID: 1, Name: "CJ"}},
	}

	c := rec.Clone()
	c.Rules["weather"] = "2"
	c.Players[0].Name = "Ryder"

	require.Equal(t, "10", rec.Rules["weather"])
	require.Equal(t, "CJ", rec.Players[0].Name)
	require.Equal(t, "10", rec.Rule("lang", "weather"))
}
