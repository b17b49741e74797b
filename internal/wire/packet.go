package wire

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	// Tag opens every image packet on the wire
	Tag = "IMG_PKT"

	tagLen  = len(Tag)
	hashLen = 32

	// MinPacketLen is the reject threshold for short packets, matching the
	// receiver side of the protocol
	MinPacketLen = 45
)

var (
	// ErrShortPacket is returned for inputs below MinPacketLen
	ErrShortPacket = errors.New("packet too short")

	// ErrBadTag is returned when the input does not open with Tag
	ErrBadTag = errors.New("bad packet tag")

	// ErrTruncated is returned when a length field points past the packet
	ErrTruncated = errors.New("length field exceeds packet")

	// ErrFieldTooLarge is returned by Encode when a field exceeds its
	// length prefix
	ErrFieldTooLarge = errors.New("field too large for length prefix")

	// ErrBadHash is returned by Encode when the supplied hash is not 32
	// lowercase hex characters
	ErrBadHash = errors.New("hash must be 32 hex characters")
)

// Meta is the metadata block carried alongside the image bytes. Timestamp
// is Unix seconds with a fractional part, as the receiver expects.
type Meta struct {
	Filename  string  `json:"filename"`
	Timestamp float64 `json:"timestamp"`
	SizeBytes int64   `json:"size_bytes"`
	Profile   string  `json:"profile"`
	Altitude  float64 `json:"altitude"`
}

// Packet is a decoded image packet
type Packet struct {
	Filename string
	Meta     Meta
	Image    []byte // Aliases the decode input, copy before reuse
	Hash     string // Hash exactly as transmitted
	Verified bool   // Recomputed image hash matches Hash
}

// Encode frames an image for transmission:
//
//	[7]  "IMG_PKT"
//	[2]  filename length, big endian
//	[N1] filename
//	[2]  metadata JSON length, big endian
//	[N2] metadata JSON
//	[4]  image length, big endian
//	[N3] image bytes
//	[32] lowercase hex MD5 of the image bytes
//
// The hash is passed in rather than recomputed so the value recorded at
// save time travels with the image; disk corruption between save and send
// then shows up as a verification failure on the ground.
func Encode(meta Meta, image []byte, hash string) ([]byte, error) {
	if len(hash) != hashLen {
		return nil, fmt.Errorf("%w: got %d characters", ErrBadHash, len(hash))
	}
	if len(meta.Filename) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: filename is %d bytes", ErrFieldTooLarge, len(meta.Filename))
	}
	if uint64(len(image)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: image is %d bytes", ErrFieldTooLarge, len(image))
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if len(metaJSON) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: metadata is %d bytes", ErrFieldTooLarge, len(metaJSON))
	}

	buf := make([]byte, 0, tagLen+2+len(meta.Filename)+2+len(metaJSON)+4+len(image)+hashLen)
	buf = append(buf, Tag...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(meta.Filename)))
	buf = append(buf, meta.Filename...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(metaJSON)))
	buf = append(buf, metaJSON...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(image)))
	buf = append(buf, image...)
	buf = append(buf, hash...)

	return buf, nil
}

// Decode parses a packet, validating the tag and every length field. A
// hash mismatch is not an error: the packet decodes with Verified false
// and the receiver files it under its unverified area instead of dropping
// it. Malformed metadata JSON is tolerated the same way, leaving Meta
// zero-valued.
func Decode(data []byte) (*Packet, error) {
	if len(data) < MinPacketLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	if string(data[:tagLen]) != Tag {
		return nil, fmt.Errorf("%w: %q", ErrBadTag, data[:tagLen])
	}
	offset := tagLen

	nameLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	if offset+nameLen > len(data) {
		return nil, fmt.Errorf("%w: filename", ErrTruncated)
	}
	filename := string(data[offset : offset+nameLen])
	offset += nameLen

	if offset+2 > len(data) {
		return nil, fmt.Errorf("%w: metadata length", ErrTruncated)
	}
	metaLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	if offset+metaLen > len(data) {
		return nil, fmt.Errorf("%w: metadata", ErrTruncated)
	}
	metaJSON := data[offset : offset+metaLen]
	offset += metaLen

	if offset+4 > len(data) {
		return nil, fmt.Errorf("%w: image length", ErrTruncated)
	}
	imgLen := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	if uint64(offset)+uint64(imgLen) > uint64(len(data)-hashLen) {
		return nil, fmt.Errorf("%w: image", ErrTruncated)
	}
	image := data[offset : offset+int(imgLen)]
	offset += int(imgLen)

	hash := string(data[offset : offset+hashLen])

	p := Packet{
		Filename: filename,
		Image:    image,
		Hash:     hash,
	}

	sum := md5.Sum(image)
	p.Verified = hex.EncodeToString(sum[:]) == hash

	if len(metaJSON) > 0 {
		// Bad metadata does not reject the packet, the image is still
		// worth keeping
		_ = json.Unmarshal(metaJSON, &p.Meta)
	}

	return &p, nil
}
