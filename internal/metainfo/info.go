// Package metainfo decodes the info dictionary of a torrent and serves
// per-piece metadata: expected SHA-1 digests and piece sizes.
package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData   = errors.New("invalid piece data")
	errInvalidPieceLength = errors.New("invalid piece length")
)

// Info is the decoded info dictionary.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"` // concatenated 20-byte piece digests
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length"` // single file mode
	Files       []FileDict `bencode:"files"`  // multiple file mode

	// Calculated fields
	Hash        [sha1.Size]byte `bencode:"-"`
	TotalLength int64           `bencode:"-"`
	NumPieces   uint32          `bencode:"-"`
}

// FileDict is a file entry in multiple file mode.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo decodes a bencoded info dictionary from b.
// The digest table is validated against the declared lengths, so every piece
// index in [0, NumPieces) is guaranteed to have a digest.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errInvalidPieceLength
	}
	if len(i.Pieces)%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	i.NumPieces = uint32(len(i.Pieces) / sha1.Size)
	if i.MultiFile() {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	} else {
		i.TotalLength = i.Length
	}
	// All pieces are full size except possibly the last.
	delta := int64(i.PieceLength)*int64(i.NumPieces) - i.TotalLength
	if delta < 0 || delta >= int64(i.PieceLength) {
		return nil, errInvalidPieceData
	}
	hash := sha1.New() // nolint: gosec
	_, _ = hash.Write(b)
	copy(i.Hash[:], hash.Sum(nil))
	return &i, nil
}

// MultiFile returns true if the torrent contains more than one file.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// PieceHash returns the expected digest of the piece at index.
// index must be less than NumPieces.
func (i *Info) PieceHash(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// PieceSize returns the length of the piece at index in bytes.
// The last piece may be shorter than PieceLength.
func (i *Info) PieceSize(index uint32) uint32 {
	if index == i.NumPieces-1 {
		return uint32(i.TotalLength - int64(index)*int64(i.PieceLength))
	}
	return i.PieceLength
}
