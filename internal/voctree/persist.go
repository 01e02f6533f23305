package voctree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
)

// MagicBytes identifies a saved database ("VTDB").
const (
	MagicBytes     uint32 = 0x42445456
	FormatVersion  uint32 = 1
	HeaderSize     int    = 9
	maxPayloadSize        = math.MaxUint32
	// MaxWordSpace bounds the vocabulary a saved database may declare.
	MaxWordSpace uint32 = 1 << 26
)

var errTruncated = errors.New("unexpected end of payload")

// Save writes the index and, when computed, its weights to w:
//
//	header  magic u32 | version u32 | compression u8
//	block   uncompressed u32 | compressed u32 | data
//	footer  crc32(uncompressed payload) u32
//
// The payload holds the vocabulary size, the document bitmap, one section per
// non-empty posting list and the weight tables, all length-prefixed.
func (db *Database) Save(w io.Writer) error {
	db.mu.RLock()
	if !db.initialized {
		db.mu.RUnlock()
		return apperrors.ErrNotInitialized
	}
	payload, err := db.encodeLocked()
	db.mu.RUnlock()
	if err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadSize {
		return fmt.Errorf("database payload too large: %d bytes", len(payload))
	}
	data, compressedSize, err := compressPayload(payload, db.compression)
	if err != nil {
		return err
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	header[8] = byte(db.compression)
	footer := make([]byte, 4)
	binary.LittleEndian.PutUint32(footer, crc32.ChecksumIEEE(payload))

	for _, part := range [][]byte{header, encodeBlockHeader(len(payload), compressedSize), data, footer} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("writing database: %w", err)
		}
	}
	db.logger.Debug("database saved",
		"payload_bytes", len(payload),
		"stored_bytes", len(data),
		"compression", db.compression.String(),
	)
	return nil
}

func (db *Database) encodeLocked() ([]byte, error) {
	pw := &payloadWriter{}
	pw.u32(db.wordSpace)
	docBytes, err := db.docs.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling document bitmap: %w", err)
	}
	pw.bytes(docBytes)

	pw.u32(uint32(db.activeWords))
	for w, list := range db.postings {
		if len(list) == 0 {
			continue
		}
		pw.u32(uint32(w))
		pw.u32(uint32(len(list)))
		for _, p := range list {
			pw.u32(uint32(p.DocID))
			pw.u32(p.Count)
		}
	}
	pw.bool(db.dirty)

	table := db.weights.Load()
	pw.bool(table != nil)
	if table != nil {
		pw.u64(table.generation)
		pw.u64(table.docCount)
		coveredBytes, err := table.covered.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshaling weighted document bitmap: %w", err)
		}
		pw.bytes(coveredBytes)
		pw.u32(uint32(len(table.idf)))
		for _, v := range table.idf {
			pw.f64(v)
		}
		pw.u32(uint32(len(table.norms)))
		it := table.scorable.Iterator()
		for it.HasNext() {
			id := DocID(it.Next())
			dn := table.norms[id]
			pw.u32(uint32(id))
			pw.f64(dn.l1)
			pw.f64(dn.l2)
		}
	}
	return pw.buf.Bytes(), nil
}

// Load replaces the database contents with a stream written by Save. On any
// error the database is left exactly as it was. Malformed or truncated input
// fails with ErrCorruptPersistedState.
func (db *Database) Load(r io.Reader) error {
	state, err := readState(r)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCorruptPersistedState, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.wordSpace = state.wordSpace
	db.postings = state.postings
	db.docs = state.docs
	db.postingCount = state.postingCount
	db.activeWords = state.activeWords
	db.dirty = state.dirty
	db.weights.Store(state.weights)
	db.initialized = true
	db.logger.Debug("database loaded",
		"word_space", state.wordSpace,
		"documents", state.docs.GetCardinality(),
		"weighted", state.weights != nil,
	)
	return nil
}

type loadedState struct {
	wordSpace    uint32
	postings     []PostingList
	docs         *roaring.Bitmap
	postingCount int64
	activeWords  int
	dirty        bool
	weights      *weightTable
}

func readState(r io.Reader) (*loadedState, error) {
	header := make([]byte, HeaderSize+blockHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != MagicBytes {
		return nil, fmt.Errorf("bad magic bytes %x", magic)
	}
	if version := binary.LittleEndian.Uint32(header[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", version)
	}
	compression := Compression(header[8])
	if compression > CompressionZSTD {
		return nil, fmt.Errorf("unknown compression %d", header[8])
	}
	uncompressedSize := int64(binary.LittleEndian.Uint32(header[HeaderSize:]))
	compressedSize := int64(binary.LittleEndian.Uint32(header[HeaderSize+4:]))
	storedSize := compressedSize
	if storedSize == 0 {
		storedSize = uncompressedSize
	}

	data, err := io.ReadAll(io.LimitReader(r, storedSize))
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if int64(len(data)) != storedSize {
		return nil, fmt.Errorf("payload truncated: %d of %d bytes", len(data), storedSize)
	}
	footer := make([]byte, 4)
	if _, err := io.ReadFull(r, footer); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}

	payload := data
	if compressedSize != 0 {
		if compression == CompressionNone {
			return nil, errors.New("compressed block without codec")
		}
		payload, err = decompressPayload(data, int(uncompressedSize), compression)
		if err != nil {
			return nil, err
		}
	}
	if got, want := crc32.ChecksumIEEE(payload), binary.LittleEndian.Uint32(footer); got != want {
		return nil, fmt.Errorf("checksum mismatch: got %08x, want %08x", got, want)
	}
	return decodeState(payload)
}

func decodeState(payload []byte) (*loadedState, error) {
	pr := &payloadReader{data: payload}
	state := &loadedState{docs: roaring.New()}

	state.wordSpace = pr.u32()
	docBytes := pr.bytes()
	if pr.err != nil {
		return nil, pr.err
	}
	if state.wordSpace == 0 || state.wordSpace > MaxWordSpace {
		return nil, fmt.Errorf("word space %d outside (0, %d]", state.wordSpace, MaxWordSpace)
	}
	if err := state.docs.UnmarshalBinary(docBytes); err != nil {
		return nil, fmt.Errorf("decoding document bitmap: %w", err)
	}
	state.postings = make([]PostingList, state.wordSpace)

	sections := pr.u32()
	var prevWord int64 = -1
	for i := uint32(0); i < sections && pr.err == nil; i++ {
		w := pr.u32()
		n := pr.u32()
		if pr.err != nil {
			break
		}
		if w >= state.wordSpace || int64(w) <= prevWord {
			return nil, fmt.Errorf("posting section %d: word %d out of order or range", i, w)
		}
		if n == 0 || uint64(n)*8 > uint64(pr.remaining()) {
			return nil, fmt.Errorf("posting section for word %d: bad length %d", w, n)
		}
		list := make(PostingList, n)
		for j := range list {
			list[j] = Posting{DocID: DocID(pr.u32()), Count: pr.u32()}
			if list[j].Count == 0 || !state.docs.Contains(uint32(list[j].DocID)) {
				return nil, fmt.Errorf("word %d: invalid posting for document %d", w, list[j].DocID)
			}
			if j > 0 && list[j-1].DocID >= list[j].DocID {
				return nil, fmt.Errorf("word %d: postings not ordered", w)
			}
		}
		state.postings[w] = list
		state.postingCount += int64(n)
		state.activeWords++
		prevWord = int64(w)
	}
	state.dirty = pr.bool()
	hasWeights := pr.bool()
	if pr.err != nil {
		return nil, pr.err
	}
	if hasWeights {
		table, err := decodeWeights(pr, state)
		if err != nil {
			return nil, err
		}
		state.weights = table
	}
	if pr.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", pr.remaining())
	}
	return state, nil
}

func decodeWeights(pr *payloadReader, state *loadedState) (*weightTable, error) {
	table := &weightTable{
		generation: pr.u64(),
		docCount:   pr.u64(),
		covered:    roaring.New(),
		norms:      make(map[DocID]docNorm),
		scorable:   roaring.New(),
	}
	coveredBytes := pr.bytes()
	if pr.err != nil {
		return nil, pr.err
	}
	if err := table.covered.UnmarshalBinary(coveredBytes); err != nil {
		return nil, fmt.Errorf("decoding weighted document bitmap: %w", err)
	}
	if table.covered.GetCardinality() != table.docCount || table.covered.AndCardinality(state.docs) != table.docCount {
		return nil, fmt.Errorf("weighted document set of %d does not match count %d", table.covered.GetCardinality(), table.docCount)
	}
	idfLen := pr.u32()
	if pr.err != nil {
		return nil, pr.err
	}
	if idfLen != state.wordSpace || uint64(idfLen)*8 > uint64(pr.remaining()) {
		return nil, fmt.Errorf("idf table length %d does not match word space %d", idfLen, state.wordSpace)
	}
	table.idf = make([]float64, idfLen)
	for i := range table.idf {
		table.idf[i] = pr.f64()
	}
	normCount := pr.u32()
	if pr.err != nil {
		return nil, pr.err
	}
	if uint64(normCount)*20 > uint64(pr.remaining()) {
		return nil, fmt.Errorf("norm table length %d exceeds payload", normCount)
	}
	var prev int64 = -1
	for i := uint32(0); i < normCount; i++ {
		id := pr.u32()
		dn := docNorm{l1: pr.f64(), l2: pr.f64()}
		if int64(id) <= prev || !table.covered.Contains(id) || !(dn.l1 > 0) {
			return nil, fmt.Errorf("invalid norm entry for document %d", id)
		}
		table.norms[DocID(id)] = dn
		table.scorable.Add(id)
		prev = int64(id)
	}
	return table, pr.err
}

type payloadWriter struct {
	buf     bytes.Buffer
	scratch [8]byte
}

func (pw *payloadWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(pw.scratch[:4], v)
	pw.buf.Write(pw.scratch[:4])
}

func (pw *payloadWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(pw.scratch[:], v)
	pw.buf.Write(pw.scratch[:])
}

func (pw *payloadWriter) f64(v float64) { pw.u64(math.Float64bits(v)) }

func (pw *payloadWriter) bool(v bool) {
	if v {
		pw.buf.WriteByte(1)
	} else {
		pw.buf.WriteByte(0)
	}
}

func (pw *payloadWriter) bytes(b []byte) {
	pw.u32(uint32(len(b)))
	pw.buf.Write(b)
}

// payloadReader latches the first error; later reads return zero values.
type payloadReader struct {
	data []byte
	off  int
	err  error
}

func (pr *payloadReader) remaining() int { return len(pr.data) - pr.off }

func (pr *payloadReader) next(n int) []byte {
	if pr.err != nil {
		return nil
	}
	if n < 0 || pr.remaining() < n {
		pr.err = errTruncated
		return nil
	}
	b := pr.data[pr.off : pr.off+n]
	pr.off += n
	return b
}

func (pr *payloadReader) u32() uint32 {
	if b := pr.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (pr *payloadReader) u64() uint64 {
	if b := pr.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (pr *payloadReader) f64() float64 { return math.Float64frombits(pr.u64()) }

func (pr *payloadReader) bool() bool {
	b := pr.next(1)
	if b == nil {
		return false
	}
	if b[0] > 1 {
		pr.err = fmt.Errorf("invalid flag byte %d", b[0])
		return false
	}
	return b[0] == 1
}

func (pr *payloadReader) bytes() []byte {
	n := pr.u32()
	if pr.err != nil {
		return nil
	}
	return pr.next(int(n))
}
