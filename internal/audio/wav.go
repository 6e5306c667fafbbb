package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV 输出固定为 16-bit PCM。
const (
	BitDepth       = 16
	BytesPerSample = BitDepth / 8
	wavHeaderSize  = 44
)

// Format 描述一段 PCM 音频的格式。
type Format struct {
	SampleRate int
	Channels   int
}

// EncodeWAV 把 [-1, 1] 范围的交错样本编码为完整的 WAV 字节流。
func EncodeWAV(samples []float32, f Format) ([]byte, error) {
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("采样率无效: %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return nil, fmt.Errorf("声道数无效: %d", f.Channels)
	}

	pcm := Int16ToBytes(Float32ToInt16(samples))
	blockAlign := f.Channels * BytesPerSample

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate*blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(BitDepth))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// ErrNotWAV 表示数据不是本包能解析的 16-bit PCM WAV。
var ErrNotWAV = errors.New("不是 16-bit PCM WAV 数据")

// DecodeWAV 解析 EncodeWAV 产生的 WAV，返回格式和 PCM 数据。
func DecodeWAV(data []byte) (Format, []int16, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}
	var f Format
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return Format{}, nil, ErrNotWAV
		}
		switch id {
		case "fmt ":
			if size < 16 || binary.LittleEndian.Uint16(data[body:]) != 1 ||
				binary.LittleEndian.Uint16(data[body+14:]) != BitDepth {
				return Format{}, nil, ErrNotWAV
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
		case "data":
			if f.SampleRate == 0 {
				return Format{}, nil, ErrNotWAV
			}
			return f, BytesToInt16(data[body : body+size]), nil
		}
		pos = body + size + size%2
	}
	return Format{}, nil, ErrNotWAV
}
