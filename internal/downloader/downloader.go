// Package downloader drives the download of a single piece from one peer.
//
// It owns a piecetracker.Tracker exclusively: it refills the request window
// through a Requester, feeds received blocks into the tracker and, once the
// piece is complete, verifies it and assembles the bytes into a pooled buffer
// for the storage layer. The loop is synchronous; block timeouts, peer
// selection and retransmission policy belong to the caller.
package downloader

import (
	"errors"
	"fmt"

	"github.com/onurg/piecedl/internal/bufferpool"
	"github.com/onurg/piecedl/internal/logger"
	"github.com/onurg/piecedl/internal/piecetracker"
)

// ErrNotFinished is returned from Finish before the last block arrived.
var ErrNotFinished = errors.New("piece is not fully downloaded")

// Requester transmits block requests for a piece to a peer.
// Wire encoding of the request is the implementation's concern.
type Requester interface {
	Request(id piecetracker.PieceID, begin, length uint32)
}

// Result is the outcome of a piece download.
// When Verified is true, Buffer holds the piece bytes and must be Released by
// the consumer. When false, the piece failed its hash check and must be
// downloaded again, from this peer or another.
type Result struct {
	ID       piecetracker.PieceID
	Verified bool
	Buffer   *bufferpool.Buffer
}

// Downloader downloads all blocks of one piece.
type Downloader struct {
	id        piecetracker.PieceID
	length    uint32
	tracker   *piecetracker.Tracker
	requester Requester
	hashes    piecetracker.HashSource
	pool      *bufferpool.Pool
	done      bool
	log       logger.Logger
}

// New returns a Downloader for the piece with the given id and length.
func New(id piecetracker.PieceID, length uint32, re Requester, hashes piecetracker.HashSource, pool *bufferpool.Pool) *Downloader {
	return &Downloader{
		id:        id,
		length:    length,
		tracker:   piecetracker.New(id, length),
		requester: re,
		hashes:    hashes,
		pool:      pool,
		log:       logger.New(fmt.Sprintf("piece #%d", id)),
	}
}

// Start transmits the initial window of block requests.
func (d *Downloader) Start() {
	d.requestBlocks()
}

func (d *Downloader) requestBlocks() {
	for _, req := range d.tracker.NextRequests() {
		d.requester.Request(d.id, req.Begin, req.Length)
	}
}

// Deliver records a block received from the peer. The payload is copied, so
// the caller may reuse its read buffer. Blocks that match no outstanding
// request are dropped with piecetracker.ErrUnrequestedBlock; the caller
// decides whether to penalize the peer. Returns true when the piece is fully
// downloaded and Finish may be called.
func (d *Downloader) Deliver(begin uint32, data []byte) (bool, error) {
	payload := make([]byte, len(data))
	copy(payload, data)
	done, err := d.tracker.Complete(piecetracker.CompletedBlockRequest{
		Begin:  begin,
		Length: uint32(len(data)),
		Data:   payload,
	})
	if err != nil {
		d.log.Warningf("dropping block at offset %d (%d bytes): %s", begin, len(data), err)
		return false, err
	}
	if done {
		d.done = true
		return true, nil
	}
	d.requestBlocks()
	return false, nil
}

// Finish verifies the downloaded piece and assembles it into a pooled buffer.
// It consumes the Downloader and must be called exactly once, after Deliver
// has returned true.
func (d *Downloader) Finish() (*Result, error) {
	if !d.done {
		return nil, ErrNotFinished
	}
	vp, ok := d.tracker.Validate(d.hashes)
	if !ok {
		d.log.Warningf("hash check failed, discarding %d bytes", d.length)
		return &Result{ID: d.id}, nil
	}
	buf := d.pool.Get(int(d.length))
	data := buf.Bytes()
	for _, blk := range vp.Blocks {
		copy(data[blk.Begin:blk.Begin+blk.Length], blk.Data)
	}
	d.log.Debugf("piece verified, %d bytes in %d blocks", d.length, len(vp.Blocks))
	return &Result{ID: d.id, Verified: true, Buffer: buf}, nil
}
