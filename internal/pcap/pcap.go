// Package pcap implements the PCAP Analyzer (spec.md §4.13, C14): a
// 24-byte global header (four magic-variant endianness/resolution
// combinations) followed by a flat sequence of captured-packet records,
// with a small Ethernet-aware summary pass for link-type 1.
//
// Grounded on the teacher's internal/tar "flat record scan with a capped
// issue log" shape (§4.9's two-zero-block terminator is this format's
// analogue of "keep reading fixed records until you run out of input"),
// adapted to PCAP's record layout and capped via fabricconfig.PCAPIssueCap
// the way spec.md §8.10 requires ("stop appending packet-level issues
// after 200 entries").
package pcap

import (
	"encoding/binary"

	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/fabricconfig"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

const globalHeaderSize = 24
const recordHeaderSize = 16

// Resolution names the timestamp subsecond unit the magic number selects.
type Resolution int

const (
	Microseconds Resolution = iota
	Nanoseconds
)

// GlobalHeader is the 24-byte PCAP file header.
type GlobalHeader struct {
	Magic          uint32
	Endian         binutil.Endian
	Resolution     Resolution
	VersionMajor   uint16
	VersionMinor   uint16
	ThisZone       int32
	SigFigs        uint32
	SnapLen        uint32
	LinkType       uint32
	LinkTypeLabel  string
}

// Record is one captured-packet record.
type Record struct {
	Offset       int64
	TsSec        uint32
	TsSubsec     uint32
	CapturedLen  uint32
	OriginalLen  uint32
}

// EthernetSummary is the optional link-type-1 payload sample pass.
type EthernetSummary struct {
	EtherTypeCounts map[uint16]int
	VLANTagged      int
	IPv4Count       int
	IPv6Count       int
}

// Capture is the PCAP analyzer's output.
type Capture struct {
	Global    GlobalHeader
	Records   []Record
	Ethernet  *EthernetSummary
	Issues    []string
}

type magicInfo struct {
	res Resolution
}

// magics maps the two PCAP global-header magic values (microsecond and
// nanosecond) to their timestamp resolution. Each is looked up under both
// byte orders, which covers the four documented magic variants; the read
// that matched (magicLE vs magicBE) tells us which byte order the rest of
// the header was written in.
var magics = map[uint32]magicInfo{
	0xA1B2C3D4: {Microseconds},
	0xA1B23C4D: {Nanoseconds},
}

// Analyze parses a PCAP capture from src.
func Analyze(src bytesource.Source) *Capture {
	log := issuelog.NewCapped(fabricconfig.PCAPIssueCap)
	res := &Capture{}

	header, err := src.Slice(0, min(globalHeaderSize, src.Length()))
	if err != nil || len(header) < globalHeaderSize {
		log.Appendf("file is shorter than the 24-byte PCAP global header (have %d bytes)", len(header))
		res.Issues = log.Snapshot()
		return res
	}

	// The magic itself tells us which endianness the rest of the header
	// (and every record) uses; try both byte orders against the magic
	// table before giving up.
	magicLE := binary.LittleEndian.Uint32(header[0:4])
	magicBE := binary.BigEndian.Uint32(header[0:4])
	var e binutil.Endian
	var info magicInfo
	var magic uint32
	var recognized bool
	if m, ok := magics[magicLE]; ok {
		e, info, magic, recognized = binutil.LE, m, magicLE, true
	} else if m, ok := magics[magicBE]; ok {
		e, info, magic, recognized = binutil.BE, m, magicBE, true
	}
	if !recognized {
		log.Appendf("unrecognized PCAP magic number %#08x", magicLE)
		res.Issues = log.Snapshot()
		return res
	}

	g := GlobalHeader{Magic: magic, Endian: e, Resolution: info.res}
	g.VersionMajor, _ = binutil.LoggedU16(header, 4, e, "version major", log)
	g.VersionMinor, _ = binutil.LoggedU16(header, 6, e, "version minor", log)
	thisZone, _ := binutil.LoggedU32(header, 8, e, "this zone", log)
	g.ThisZone = int32(thisZone)
	g.SigFigs, _ = binutil.LoggedU32(header, 12, e, "sigfigs", log)
	g.SnapLen, _ = binutil.LoggedU32(header, 16, e, "snaplen", log)
	g.LinkType, _ = binutil.LoggedU32(header, 20, e, "link type", log)
	g.LinkTypeLabel = linkTypeLabel(g.LinkType)
	res.Global = g

	var eth *EthernetSummary
	if g.LinkType == 1 {
		eth = &EthernetSummary{EtherTypeCounts: make(map[uint16]int)}
	}

	cur := bytesource.NewCursor(src, globalHeaderSize)
	var lastTs int64 = -1
	for i := 0; ; i++ {
		if cur.Remaining() == 0 {
			break
		}
		recHeaderBuf, ok := cur.Peek(recordHeaderSize)
		if !ok {
			log.Offsetf(cur.Pos, "truncated packet record header (%d bytes remain)", cur.Remaining())
			break
		}
		tsSec, _ := binutil.U32(recHeaderBuf, 0, e)
		tsSub, _ := binutil.U32(recHeaderBuf, 4, e)
		capLen, _ := binutil.U32(recHeaderBuf, 8, e)
		origLen, _ := binutil.U32(recHeaderBuf, 12, e)

		rec := Record{Offset: cur.Pos, TsSec: tsSec, TsSubsec: tsSub, CapturedLen: capLen, OriginalLen: origLen}

		if capLen > g.SnapLen {
			log.Offsetf(cur.Pos, "record %d captured_len %d exceeds snaplen %d", i, capLen, g.SnapLen)
		}
		if capLen > origLen {
			log.Offsetf(cur.Pos, "record %d captured_len %d exceeds original_len %d", i, capLen, origLen)
		}
		ts := int64(tsSec)*1_000_000_000 + int64(tsSub)*nsPerSubsec(info.res)
		if lastTs >= 0 && ts < lastTs {
			log.Offsetf(cur.Pos, "record %d timestamp is not monotonic with the previous record", i)
		}
		lastTs = ts

		if !cur.SeekTo(cur.Pos + recordHeaderSize) {
			log.Offsetf(cur.Pos, "record %d header did not advance the cursor", i)
			break
		}
		payload, ok := cur.Take(int64(capLen))
		if !ok {
			log.Offsetf(rec.Offset, "record %d payload (%d bytes) runs past end of capture", i, capLen)
			res.Records = append(res.Records, rec)
			break
		}
		res.Records = append(res.Records, rec)

		if eth != nil {
			summarizeEthernet(payload, eth)
		}
	}

	res.Ethernet = eth
	res.Issues = log.Snapshot()
	return res
}

func nsPerSubsec(r Resolution) int64 {
	if r == Nanoseconds {
		return 1
	}
	return 1000
}

func linkTypeLabel(v uint32) string {
	switch v {
	case 0:
		return "BSD loopback"
	case 1:
		return "Ethernet"
	case 101:
		return "raw IP"
	case 105:
		return "IEEE 802.11"
	case 113:
		return "Linux SLL"
	case 127:
		return "IEEE 802.11 radiotap"
	default:
		return "unknown"
	}
}

// summarizeEthernet inspects up to the first 128 bytes of an Ethernet
// frame payload to count EtherTypes, VLAN tags, and IPv4/IPv6 occurrence,
// per spec.md §4.13's "small payload sample" rule.
func summarizeEthernet(payload []byte, eth *EthernetSummary) {
	sample := payload
	if len(sample) > 128 {
		sample = sample[:128]
	}
	if len(sample) < 14 {
		return
	}
	etherType, ok := binutil.U16(sample, 12, binutil.BE)
	if !ok {
		return
	}
	if etherType == 0x8100 || etherType == 0x88A8 {
		eth.VLANTagged++
		if inner, ok2 := binutil.U16(sample, 16, binutil.BE); ok2 {
			etherType = inner
		}
	}
	eth.EtherTypeCounts[etherType]++
	switch etherType {
	case 0x0800:
		eth.IPv4Count++
	case 0x86DD:
		eth.IPv6Count++
	}
}
