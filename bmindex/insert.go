package bmindex

import (
	"github.com/cockroachdb/errors"

	"mit.edu/dsg/bmindex/common"
)

// Insert records that the row rid holds key. It returns false, without error, when key would be a new distinct
// value but the index is already at MaxDistinct; the row is then not indexed.
func (ix *Index) Insert(key []common.Value, rid common.RowID) (bool, error) {
	if !rid.IsValid() {
		return false, common.NewError(common.InvalidRowIDError, "row %s: slot must be in [1, %d]", rid,
			common.MaxHeapTuplesPerPage)
	}
	arena := getArena()
	defer putArena(arena)

	ordinal, _, err := ix.resolveOrdinal(key, true, arena)
	if common.IsError(err, common.CapacityExceededError) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "index %s: insert %s", ix.def.Name, rid)
	}
	if _, err := ix.upsertRowID(ordinal, rid, arena); err != nil {
		return false, errors.Wrapf(err, "index %s: insert %s", ix.def.Name, rid)
	}
	return true, nil
}
