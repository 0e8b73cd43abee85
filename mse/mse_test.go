package mse_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/james-lawrence/peerio/mse"
	"github.com/stretchr/testify/require"
)

func testhash() (h [mse.HashSize]byte) {
	for i := range h {
		h[i] = byte(i + 1)
	}
	return h
}

func TestPairRoundTrip(t *testing.T) {
	var (
		h        = testhash()
		outbound = mse.NewCipher(&h, false)
		inbound  = mse.NewCipher(&h, true)
		payload  = []byte("the quick brown fox jumps over the lazy dog")
	)

	enciphered := make([]byte, len(payload))
	outbound.Encrypt(enciphered, payload)
	require.NotEqual(t, payload, enciphered)

	deciphered := make([]byte, len(enciphered))
	inbound.Decrypt(deciphered, enciphered)
	require.Equal(t, payload, deciphered)
}

func TestPairReverseDirection(t *testing.T) {
	var (
		h        = testhash()
		outbound = mse.NewCipher(&h, false)
		inbound  = mse.NewCipher(&h, true)
		payload  = []byte("reply")
	)

	enciphered := make([]byte, len(payload))
	inbound.Encrypt(enciphered, payload)

	deciphered := make([]byte, len(enciphered))
	outbound.Decrypt(deciphered, enciphered)
	require.Equal(t, payload, deciphered)
}

func TestPairArbitraryChunking(t *testing.T) {
	var (
		h        = testhash()
		outbound = mse.NewCipher(&h, false)
		inbound  = mse.NewCipher(&h, true)
		rng      = rand.New(rand.NewSource(42))
		payload  = make([]byte, 4096)
	)

	rng.Read(payload)

	// encipher in random sized chunks, decipher in different random sized
	// chunks; the keystreams advance identically regardless.
	enciphered := make([]byte, 0, len(payload))
	for rest := payload; len(rest) > 0; {
		n := min(1+rng.Intn(97), len(rest))
		chunk := make([]byte, n)
		outbound.Encrypt(chunk, rest[:n])
		enciphered = append(enciphered, chunk...)
		rest = rest[n:]
	}

	deciphered := make([]byte, 0, len(payload))
	for rest := enciphered; len(rest) > 0; {
		n := min(1+rng.Intn(53), len(rest))
		chunk := make([]byte, n)
		inbound.Decrypt(chunk, rest[:n])
		deciphered = append(deciphered, chunk...)
		rest = rest[n:]
	}

	require.True(t, bytes.Equal(payload, deciphered))
}

func TestInPlace(t *testing.T) {
	var (
		h        = testhash()
		outbound = mse.NewCipher(&h, false)
		inbound  = mse.NewCipher(&h, true)
		payload  = []byte("in place")
		work     = append([]byte(nil), payload...)
	)

	outbound.Encrypt(work, work)
	inbound.Decrypt(work, work)
	require.Equal(t, payload, work)
}

func TestLazyHashInstall(t *testing.T) {
	var (
		h        = testhash()
		outbound = mse.NewCipher(&h, false)
		inbound  = mse.NewCipher(nil, true)
		payload  = []byte("handshake identified the swarm")
	)

	require.False(t, inbound.HasTorrentHash())
	inbound.SetTorrentHash(h)
	require.True(t, inbound.HasTorrentHash())
	require.Equal(t, h, inbound.TorrentHash())

	enciphered := make([]byte, len(payload))
	outbound.Encrypt(enciphered, payload)

	deciphered := make([]byte, len(enciphered))
	inbound.Decrypt(deciphered, enciphered)
	require.Equal(t, payload, deciphered)
}

func TestUseWithoutHashPanics(t *testing.T) {
	c := mse.NewCipher(nil, true)
	require.Panics(t, func() {
		c.Encrypt(make([]byte, 1), []byte{0})
	})
}

func TestMismatchedHashesDiverge(t *testing.T) {
	var (
		ha       = testhash()
		hb       = [mse.HashSize]byte{0xde, 0xad}
		outbound = mse.NewCipher(&ha, false)
		inbound  = mse.NewCipher(&hb, true)
		payload  = []byte("payload")
	)

	enciphered := make([]byte, len(payload))
	outbound.Encrypt(enciphered, payload)

	deciphered := make([]byte, len(enciphered))
	inbound.Decrypt(deciphered, enciphered)
	require.NotEqual(t, payload, deciphered)
}
