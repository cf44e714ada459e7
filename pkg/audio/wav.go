package audio

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV wraps canonical s16le mono 16 kHz data in a RIFF/WAVE
// header for HTTP upload to transcription providers.
func EncodeWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(CanonicalChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(CanonicalRate))
	binary.Write(&buf, binary.LittleEndian, uint32(CanonicalRate*CanonicalChannels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(CanonicalChannels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}
