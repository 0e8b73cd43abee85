// Package mse provides the RC4-compatible stream cipher pair used by the MSE
// (message stream encryption) obfuscation protocol. a cipher is bound to the
// 20 byte torrent info hash and a direction; the two ends of a connection
// derive opposite keystreams from the same hash, so bytes enciphered by one
// decipher exactly on the other.
package mse

import (
	"crypto/rc4"
	"crypto/sha1"
	"sync"
)

const (
	// HashSize length of a torrent info hash.
	HashSize = 20
	// keystream prefix discarded after initialization, per the MSE
	// specification.
	discarded = 1024
)

const (
	keya = "keyA"
	keyb = "keyB"
)

// NewCipher binds a keystream pair to the provided hash. hash may be nil for
// incoming connections whose swarm is unknown until the handshake arrives;
// install it with SetTorrentHash before enciphering.
func NewCipher(hash *[HashSize]byte, incoming bool) *Cipher {
	t := &Cipher{incoming: incoming}
	if hash != nil {
		t.hash = *hash
		t.hashed = true
	}

	return t
}

// Cipher holds the two direction keystreams and the hash they derive from.
// keystreams initialize lazily on first use so the hash can be installed
// after construction.
type Cipher struct {
	mu       sync.Mutex
	hash     [HashSize]byte
	hashed   bool
	incoming bool
	enc      *rc4.Cipher
	dec      *rc4.Cipher
}

// SetTorrentHash installs the hash the keystreams derive from. replacing the
// hash resets any keystream state.
func (t *Cipher) SetTorrentHash(hash [HashSize]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hash = hash
	t.hashed = true
	t.enc = nil
	t.dec = nil
}

// TorrentHash the hash the cipher is bound to, zero until installed.
func (t *Cipher) TorrentHash() [HashSize]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hash
}

// HasTorrentHash reports whether a hash has been installed.
func (t *Cipher) HasTorrentHash() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hashed
}

// Encrypt src into dst advancing the send keystream. dst and src may overlap
// entirely for in place use.
func (t *Cipher) Encrypt(dst, src []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enc == nil {
		t.enc = t.keystream(t.sendkey())
	}

	t.enc.XORKeyStream(dst, src)
}

// Decrypt src into dst advancing the receive keystream. dst and src may
// overlap entirely for in place use.
func (t *Cipher) Decrypt(dst, src []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dec == nil {
		t.dec = t.keystream(t.recvkey())
	}

	t.dec.XORKeyStream(dst, src)
}

// the initiating side sends on the "a" keystream and receives on "b"; the
// accepting side the reverse. the direction parameter at construction is what
// makes the two ends interoperate.
func (t *Cipher) sendkey() string {
	if t.incoming {
		return keyb
	}

	return keya
}

func (t *Cipher) recvkey() string {
	if t.incoming {
		return keya
	}

	return keyb
}

func (t *Cipher) keystream(key string) *rc4.Cipher {
	if !t.hashed {
		panic("mse: cipher used before the torrent hash was installed")
	}

	seed := sha1.Sum(append([]byte(key), t.hash[:]...))
	c, err := rc4.NewCipher(seed[:])
	if err != nil {
		panic(err)
	}

	var junk [discarded]byte
	c.XORKeyStream(junk[:], junk[:])

	return c
}
