package pipeline

import "time"

var (
	mpeg1L3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2L3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	sampleRates = map[byte][3]int{
		3: {44100, 48000, 32000}, // MPEG-1
		2: {22050, 24000, 16000}, // MPEG-2
		0: {11025, 12000, 8000},  // MPEG-2.5
	}
)

// EstimateMP3Duration sums the duration of the Layer III frames in data.
// Bytes that are not part of a valid frame are skipped, so concatenated
// clips and a leading ID3v2 tag are handled.
func EstimateMP3Duration(data []byte) time.Duration {
	i := skipID3(data)
	var seconds float64
	for i+4 <= len(data) {
		frameLen, samples, rate := parseFrameHeader(data[i : i+4])
		if frameLen == 0 {
			i++
			continue
		}
		seconds += float64(samples) / float64(rate)
		i += frameLen
	}
	return time.Duration(seconds * float64(time.Second))
}

// parseFrameHeader returns frame length in bytes, samples per frame and
// sample rate, or zeros if h is not a Layer III frame header.
func parseFrameHeader(h []byte) (frameLen, samples, rate int) {
	if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return 0, 0, 0
	}
	version := (h[1] >> 3) & 0x03
	layer := (h[1] >> 1) & 0x03
	if version == 1 || layer != 1 {
		return 0, 0, 0
	}
	rates, ok := sampleRates[version]
	srIdx := (h[2] >> 2) & 0x03
	if !ok || srIdx == 3 {
		return 0, 0, 0
	}
	rate = rates[srIdx]

	brIdx := h[2] >> 4
	padding := int((h[2] >> 1) & 0x01)
	if version == 3 {
		br := mpeg1L3Bitrates[brIdx] * 1000
		if br == 0 {
			return 0, 0, 0
		}
		return 144*br/rate + padding, 1152, rate
	}
	br := mpeg2L3Bitrates[brIdx] * 1000
	if br == 0 {
		return 0, 0, 0
	}
	return 72*br/rate + padding, 576, rate
}

func skipID3(data []byte) int {
	if len(data) < 10 || string(data[:3]) != "ID3" {
		return 0
	}
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	if 10+size > len(data) {
		return len(data)
	}
	return 10 + size
}
