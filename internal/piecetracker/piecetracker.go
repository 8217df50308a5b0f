// Package piecetracker tracks the download progress of a single piece.
//
// A Tracker schedules block requests inside a bounded window, records received
// blocks against outstanding requests and finally verifies the reassembled
// piece against its expected SHA-1 digest. It performs no I/O and must be
// owned by a single goroutine.
package piecetracker

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"sort"
)

// BlockSize is the transfer unit of a piece.
const BlockSize = 16 * 1024

// DefaultWindowSize is the maximum number of in-flight block requests per piece.
// TODO: adapt the window to observed peer throughput instead of a fixed size.
const DefaultWindowSize = 5

// ErrUnrequestedBlock is returned from Tracker.Complete when the received
// block does not match any outstanding request.
var ErrUnrequestedBlock = errors.New("received block was not requested")

// PieceID identifies a piece within a torrent.
// IDs are issued by the piece-selection collaborator that also owns the hash table.
type PieceID = uint32

// HashSource provides the expected digest of a piece.
// It must hold a digest for every PieceID it has issued.
type HashSource interface {
	PieceHash(id PieceID) []byte
}

// PendingBlockRequest is a block request sent to a peer but not yet satisfied.
type PendingBlockRequest struct {
	Begin  uint32
	Length uint32
}

// CompletedBlockRequest is a received block with its payload.
type CompletedBlockRequest struct {
	Begin  uint32
	Length uint32
	Data   []byte
}

// ValidatedPiece holds the blocks of a hash-checked piece, sorted by Begin.
// It is created by Tracker.Validate and handed to the storage collaborator.
type ValidatedPiece struct {
	ID     PieceID
	Blocks []CompletedBlockRequest
}

// Tracker is the download state of one piece.
// It mutates through schedule/complete cycles and is consumed exactly once by Validate.
type Tracker struct {
	ID     PieceID
	Length uint32 // piece size in bytes

	window    int
	offset    uint32 // bytes scheduled for request so far
	remaining uint32 // bytes not yet confirmed complete
	pending   []PendingBlockRequest
	completed []CompletedBlockRequest
	consumed  bool
}

// New returns a Tracker for a piece with the default request window.
func New(id PieceID, length uint32) *Tracker {
	return NewWithWindow(id, length, DefaultWindowSize)
}

// NewWithWindow returns a Tracker with a custom request window size.
// window values smaller than 1 fall back to DefaultWindowSize.
func NewWithWindow(id PieceID, length uint32, window int) *Tracker {
	if window < 1 {
		window = DefaultWindowSize
	}
	return &Tracker{
		ID:        id,
		Length:    length,
		window:    window,
		remaining: length,
		pending:   make([]PendingBlockRequest, 0, window),
		completed: make([]CompletedBlockRequest, 0, length/BlockSize+1),
	}
}

// nextBoundary emits the next unscheduled block of the piece and advances the
// schedule cursor. The last block may be shorter than BlockSize.
func (t *Tracker) nextBoundary() (PendingBlockRequest, bool) {
	left := t.Length - t.offset
	switch {
	case left > BlockSize:
		req := PendingBlockRequest{Begin: t.offset, Length: BlockSize}
		t.offset += BlockSize
		return req, true
	case left > 0:
		req := PendingBlockRequest{Begin: t.offset, Length: left}
		t.offset = t.Length
		return req, true
	default:
		return PendingBlockRequest{}, false
	}
}

// NextRequests refills the outstanding-request window and returns only the
// requests added by this call, so the caller knows exactly what to transmit.
// It returns an empty batch when the window is full or all bytes are scheduled.
func (t *Tracker) NextRequests() []PendingBlockRequest {
	t.mustBeActive()
	free := t.window - len(t.pending)
	if free <= 0 {
		return nil
	}
	batch := make([]PendingBlockRequest, 0, free)
	for i := 0; i < free; i++ {
		req, ok := t.nextBoundary()
		if !ok {
			break
		}
		t.pending = append(t.pending, req)
		batch = append(batch, req)
	}
	return batch
}

// Complete records a received block. The block must match an outstanding
// request by exact (Begin, Length); anything else gets ErrUnrequestedBlock and
// leaves the tracker unchanged. Returns true when the piece is fully downloaded.
func (t *Tracker) Complete(req CompletedBlockRequest) (bool, error) {
	t.mustBeActive()
	i := -1
	for j, pr := range t.pending {
		if pr.Begin == req.Begin && pr.Length == req.Length {
			i = j
			break
		}
	}
	if i == -1 {
		return false, ErrUnrequestedBlock
	}
	t.pending = append(t.pending[:i], t.pending[i+1:]...)
	t.remaining -= req.Length
	t.completed = append(t.completed, req)
	return t.remaining == 0, nil
}

// Validate consumes the tracker. It sorts the completed blocks by offset,
// hashes their concatenation and compares against the expected digest from
// hashes. On a match it returns the ValidatedPiece and true; on a mismatch it
// returns nil and false and the caller must re-download the piece.
//
// A missing digest for t.ID means the ID was not issued by the collaborator
// holding the hash table; that is a bug, not bad input, so Validate panics.
// Any use of the tracker after Validate panics as well.
func (t *Tracker) Validate(hashes HashSource) (*ValidatedPiece, bool) {
	t.mustBeActive()
	t.consumed = true

	// (Begin, Length) pairs are unique, no secondary sort key needed.
	sort.Slice(t.completed, func(i, j int) bool { return t.completed[i].Begin < t.completed[j].Begin })

	h := sha1.New() // nolint: gosec
	for _, b := range t.completed {
		h.Write(b.Data)
	}

	expected := hashes.PieceHash(t.ID)
	if len(expected) != sha1.Size {
		panic(fmt.Sprintf("piecetracker: no digest for piece #%d, piece ID was not issued by the hash source", t.ID))
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, false
	}

	blocks := t.completed
	t.pending = nil
	t.completed = nil
	return &ValidatedPiece{ID: t.ID, Blocks: blocks}, true
}

// Remaining returns the number of bytes not yet confirmed complete.
func (t *Tracker) Remaining() uint32 { return t.remaining }

// PendingCount returns the number of outstanding block requests.
func (t *Tracker) PendingCount() int { return len(t.pending) }

// Scheduled returns the number of bytes scheduled for request so far.
func (t *Tracker) Scheduled() uint32 { return t.offset }

func (t *Tracker) mustBeActive() {
	if t.consumed {
		panic(fmt.Sprintf("piecetracker: tracker for piece #%d used after Validate", t.ID))
	}
}
