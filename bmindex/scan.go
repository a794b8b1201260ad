package bmindex

import (
	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
	"mit.edu/dsg/bmindex/storage"
)

// StrategyEqual is the only operator strategy the index supports.
const StrategyEqual uint16 = 1

// ScanKey restricts one key column. Attno is 1-based. A null Argument asks for rows whose column is null.
type ScanKey struct {
	Attno    int
	Strategy uint16
	Argument common.Value
}

// RowIDAccumulator collects the result of a bulk scan. The slice passed to AddRowIDs is reused after the call.
type RowIDAccumulator interface {
	AddRowIDs(rids []common.RowID)
}

type scanState int

const (
	scanUnresolved scanState = iota
	scanResolved
	scanExhausted
)

// Scan is an equality lookup over the index. It resolves the key's ordinal on first use and then returns the
// rows of that ordinal's chain, either one at a time with Next or all at once with CollectAll. Rows come in chain
// order, which is not row identifier order, and a row may appear more than once.
type Scan struct {
	ix      *Index
	keys    []common.Value
	matches bool
	state   scanState

	cursor  *chainCursor
	tuple   int
	slot    uint16
	current common.RowID
	err     error
}

// BeginScan starts a scan restricted by keys.
func (ix *Index) BeginScan(keys []ScanKey) *Scan {
	s := &Scan{ix: ix}
	s.Rescan(keys)
	return s
}

// Rescan restarts the scan with new keys.
func (s *Scan) Rescan(keys []ScanKey) {
	s.Close()
	s.keys, s.matches = s.ix.keysFromScanKeys(keys)
	s.state = scanUnresolved
	s.current = common.RowID{}
	s.err = nil
}

// keysFromScanKeys turns scan keys into one equality value per key column. Any other shape, such as a missing
// column or a non-equality strategy, cannot match.
func (ix *Index) keysFromScanKeys(keys []ScanKey) ([]common.Value, bool) {
	n := ix.desc.NumAttrs()
	values := make([]common.Value, n)
	seen := make([]bool, n)
	for _, k := range keys {
		if k.Strategy != StrategyEqual || k.Attno < 1 || k.Attno > n {
			return nil, false
		}
		if k.Argument.Type() != ix.desc.Types()[k.Attno-1] {
			return nil, false
		}
		if seen[k.Attno-1] {
			// Two equality keys on one column match only if they agree.
			prev := values[k.Attno-1]
			if prev.IsNull() != k.Argument.IsNull() ||
				(!prev.IsNull() && !storage.DatumIsEqual(prev.Type(), prev, k.Argument)) {
				return nil, false
			}
			continue
		}
		values[k.Attno-1] = k.Argument
		seen[k.Attno-1] = true
	}
	for _, ok := range seen {
		if !ok {
			return nil, false
		}
	}
	return values, true
}

// resolve finds the ordinal and positions the cursor at the head of its chain.
func (s *Scan) resolve() bool {
	s.state = scanExhausted
	if !s.matches {
		return false
	}
	arena := getArena()
	defer putArena(arena)
	ordinal, found, err := s.ix.resolveOrdinal(s.keys, false, arena)
	if err != nil {
		s.err = errors.Wrapf(err, "index %s: resolve scan keys", s.ix.def.Name)
		return false
	}
	if !found {
		return false
	}
	s.cursor, err = s.ix.openChainCursor(ordinal)
	if err != nil {
		s.err = err
		return false
	}
	s.state = scanResolved
	s.tuple, s.slot = 0, 0
	return true
}

// Next advances to the next matching row.
func (s *Scan) Next() bool {
	if s.state == scanUnresolved && !s.resolve() {
		return false
	}
	if s.state != scanResolved {
		return false
	}
	c := s.cursor
	for c.frame != nil {
		for s.tuple < c.numTuples() {
			if rid, ok := c.tuple(s.tuple).NextRowIDFrom(s.slot); ok {
				s.current, s.slot = rid, rid.Slot
				return true
			}
			s.tuple, s.slot = s.tuple+1, 0
		}
		if _, err := c.advance(); err != nil {
			s.err = err
			break
		}
		s.tuple, s.slot = 0, 0
	}
	s.finish()
	return false
}

// RowID returns the row found by the last successful Next.
func (s *Scan) RowID() common.RowID {
	return s.current
}

// Error returns the first error encountered during the scan, if any.
func (s *Scan) Error() error {
	return s.err
}

func (s *Scan) finish() {
	s.state = scanExhausted
	if s.cursor != nil {
		s.cursor.close()
		s.cursor = nil
	}
}

// CollectAll adds every row the scan has not yet returned to acc and returns how many it added.
func (s *Scan) CollectAll(acc RowIDAccumulator) (int, error) {
	if s.state == scanUnresolved && !s.resolve() {
		return 0, s.err
	}
	if s.state != scanResolved {
		return 0, s.err
	}
	total := 0
	rids := make([]common.RowID, 0, common.MaxHeapTuplesPerPage)
	c := s.cursor
	for c.frame != nil {
		for ; s.tuple < c.numTuples(); s.tuple, s.slot = s.tuple+1, 0 {
			rids = rids[:0]
			t := c.tuple(s.tuple)
			for rid, ok := t.NextRowIDFrom(s.slot); ok; rid, ok = t.NextRowIDFrom(rid.Slot) {
				rids = append(rids, rid)
			}
			if len(rids) > 0 {
				acc.AddRowIDs(rids)
				total += len(rids)
			}
		}
		if _, err := c.advance(); err != nil {
			s.err = err
			break
		}
		s.tuple, s.slot = 0, 0
	}
	s.finish()
	return total, s.err
}

// Close releases the scan's pin. The scan can be restarted with Rescan.
func (s *Scan) Close() {
	s.finish()
}
