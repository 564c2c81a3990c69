// Package audio normalizes inbound audio payloads and estimates playback
// duration for outbound pacing.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DecodeError reports an audio payload that could not be normalized.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return "audio decode: " + e.Reason
}

// Normalize converts the heterogeneous audio payloads that arrive over the
// wire into a canonical byte buffer. Accepted shapes:
//
//   - string: base64-encoded audio
//   - []byte: raw audio, passed through
//   - []float64 / []any of numbers: int16 sample array, little-endian encoded
//
// Any other shape fails with *DecodeError.
func Normalize(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return nil, &DecodeError{Reason: "empty payload"}
	case []byte:
		return v, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("invalid base64: %v", err)}
		}
		return decoded, nil
	case []float64:
		return encodeSamples(v)
	case []any:
		samples := make([]float64, 0, len(v))
		for i, el := range v {
			n, ok := el.(float64)
			if !ok {
				return nil, &DecodeError{Reason: fmt.Sprintf("sample %d is %T, want number", i, el)}
			}
			samples = append(samples, n)
		}
		return encodeSamples(samples)
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported payload type %T", raw)}
	}
}

func encodeSamples(samples []float64) ([]byte, error) {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s < math.MinInt16 || s > math.MaxInt16 {
			return nil, &DecodeError{Reason: fmt.Sprintf("sample %d out of int16 range: %v", i, s)}
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out, nil
}

// EstimateDuration returns the playback duration of a raw PCM buffer.
// sampleWidth is the size of one sample in bytes.
func EstimateDuration(n int, sampleWidth, sampleRate int) time.Duration {
	if n <= 0 || sampleWidth <= 0 || sampleRate <= 0 {
		return 0
	}
	seconds := float64(n) / float64(sampleWidth) / float64(sampleRate)
	return time.Duration(seconds * float64(time.Second))
}
