package recorder

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/sigurn/crc16"
	"github.com/sigurn/crc8"
)

// segmentEventLog is a zerolog sink dedicated to per-segment write events.
// This is a distinct concern from the package-wide *obs.Logger used
// elsewhere in the segmenter: stream-level state changes (init segment
// written, keyframe timeout) are low-volume and belong on the shared
// slog-based logger, but a busy multi-track recording can emit several
// segment-write events per second per stream, and zerolog's zero-alloc
// field chaining is built for exactly that volume.
var segmentEventLog = zerolog.New(os.Stdout).With().Timestamp().Logger()

var (
	crc16Table = crc16.MakeTable(crc16.CRC16_XMODEM)
	crc8Table  = crc8.MakeTable(crc8.CRC8)
)

// segmentChecksum computes the CRC16 and CRC8 of a segment's encoded
// bytes. Both are exposed (rather than just one) so a manifest consumer
// can cross-check with whichever the player's own tooling already
// computes — liveion itself does not checksum segments at all, so this
// is a supplemental integrity feature, not a spec requirement.
func segmentChecksum(data []byte) (crc16v uint16, crc8v uint8) {
	return crc16.Checksum(data, crc16Table), crc8.Checksum(data, crc8Table)
}

// logSegmentWritten emits one structured event per segment write,
// including its integrity checksums, independent of the package's normal
// obs.Logger call in rollSegment.
func logSegmentWritten(streamPath, name string, data []byte, sampleCount int) {
	crc16v, crc8v := segmentChecksum(data)
	segmentEventLog.Info().
		Str("stream_path", streamPath).
		Str("segment", name).
		Int("bytes", len(data)).
		Int("samples", sampleCount).
		Uint16("crc16", crc16v).
		Uint8("crc8", crc8v).
		Msg("segment written")
}
