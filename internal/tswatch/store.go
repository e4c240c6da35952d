package tswatch

import (
	"bytes"
	"encoding/gob"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// TokenRecord is the last render token seen for a status key.
type TokenRecord struct {
	Key        string
	Token      string
	ContentURL string
	SeenAt     int64 // unix nanoseconds, UTC
}

func (r TokenRecord) Seen() time.Time { return time.Unix(0, r.SeenAt).UTC() }

type storeOp struct {
	put *TokenRecord
	del string
}

// TokenStore persists TokenRecords in leveldb. Writes go through a single
// writer goroutine; reads hit the db directly, so a Put becomes visible
// shortly after it returns and durably once Close returns.
type TokenStore struct {
	db   *leveldb.DB
	logf func(format string, args ...any)

	mu     sync.Mutex
	closed bool

	ops  chan storeOp
	done chan struct{}
}

const tokenPrefix = "t:"

func OpenTokenStore(path string) (*TokenStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := &TokenStore{
		db:   db,
		logf: log.Printf,
		ops:  make(chan storeOp, 64),
		done: make(chan struct{}),
	}
	go s.writerLoop()
	return s, nil
}

func (s *TokenStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
	return s.db.Close()
}

func (s *TokenStore) Get(key Key) (TokenRecord, bool) {
	b, err := s.db.Get([]byte(tokenPrefix+key.String()), nil)
	if err != nil {
		return TokenRecord{}, false
	}
	var rec TokenRecord
	if err := decodeGob(b, &rec); err != nil {
		return TokenRecord{}, false
	}
	return rec, true
}

// Put queues rec for writing. It is dropped if the store is closed.
func (s *TokenStore) Put(rec TokenRecord) {
	s.enqueue(storeOp{put: &rec})
}

func (s *TokenStore) Delete(key Key) {
	s.enqueue(storeOp{del: key.String()})
}

func (s *TokenStore) enqueue(op storeOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ops <- op
}

// Keys lists the canonical key strings of every stored record.
func (s *TokenStore) Keys() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(tokenPrefix)), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(tokenPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *TokenStore) writerLoop() {
	defer close(s.done)
	for op := range s.ops {
		batch := new(leveldb.Batch)
		switch {
		case op.put != nil:
			b, err := encodeGob(*op.put)
			if err != nil {
				s.logf("token store encode %s: %v", op.put.Key, err)
				continue
			}
			batch.Put([]byte(tokenPrefix+op.put.Key), b)
		case op.del != "":
			batch.Delete([]byte(tokenPrefix + op.del))
		default:
			continue
		}
		if err := s.db.Write(batch, nil); err != nil {
			s.logf("token store write: %v", err)
		}
	}
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
