package peerio

import (
	"encoding/binary"

	"github.com/james-lawrence/peerio/bufev"
)

// WriteBytes appends src to out, encrypting through the send keystream when
// the stream mode is active. out is typically a staging buffer the consumer
// flushes with WriteBuf.
func (t *PeerIO) WriteBytes(out *bufev.Buffer, src []byte) {
	switch EncryptionMode(t.mode.Load()) {
	case EncryptionRC4:
		tmp := make([]byte, len(src))
		t.crypto.Encrypt(tmp, src)
		out.Add(tmp)
	default:
		out.Add(src)
	}
}

// ReadBytes drains len(dst) bytes from in, decrypting through the receive
// keystream when the stream mode is active. it is the caller's contract that
// in holds at least len(dst) bytes. the drained count always feeds
// BytesFromPeer.
func (t *PeerIO) ReadBytes(in *bufev.Buffer, dst []byte) {
	n := in.Remove(dst)
	t.fromPeer.Add(int64(n))

	if EncryptionMode(t.mode.Load()) == EncryptionRC4 {
		t.crypto.Decrypt(dst[:n], dst[:n])
	}
}

// Drain discards n bytes from in. the receive keystream still advances, so
// dropping a message cannot desynchronise the cipher.
func (t *PeerIO) Drain(in *bufev.Buffer, n int) {
	tmp := make([]byte, n)
	t.ReadBytes(in, tmp)
}

func (t *PeerIO) WriteUint8(out *bufev.Buffer, v uint8) {
	t.WriteBytes(out, []byte{v})
}

func (t *PeerIO) WriteUint16(out *bufev.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	t.WriteBytes(out, b[:])
}

func (t *PeerIO) WriteUint32(out *bufev.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	t.WriteBytes(out, b[:])
}

func (t *PeerIO) ReadUint8(in *bufev.Buffer) uint8 {
	var b [1]byte
	t.ReadBytes(in, b[:])
	return b[0]
}

func (t *PeerIO) ReadUint16(in *bufev.Buffer) uint16 {
	var b [2]byte
	t.ReadBytes(in, b[:])
	return binary.BigEndian.Uint16(b[:])
}

func (t *PeerIO) ReadUint32(in *bufev.Buffer) uint32 {
	var b [4]byte
	t.ReadBytes(in, b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Write injects b directly into the socket's output, bypassing encryption.
// reserved for the handshake prologue that precedes key exchange; once an
// encryption mode is negotiated all output must go through WriteBytes. must
// run on the event loop thread.
func (t *PeerIO) Write(b []byte) {
	if !t.session.loop.InLoop() {
		panic("peerio: Write must run on the event loop thread")
	}

	if sock := t.buffered.Load(); sock != nil {
		sock.Write(b)
	}
}

// WriteBuf drains buf onto the wire through Write, emptying the source.
func (t *PeerIO) WriteBuf(buf *bufev.Buffer) {
	t.Write(buf.Take())
}
