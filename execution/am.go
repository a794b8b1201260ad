package execution

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"mit.edu/dsg/bmindex/bmindex"
	"mit.edu/dsg/bmindex/common"
)

// ScanDirection is the direction an index scan is asked to move in.
type ScanDirection int

const (
	BackwardScanDirection   ScanDirection = -1
	NoMovementScanDirection ScanDirection = 0
	ForwardScanDirection    ScanDirection = 1
)

// ParallelVacuumFlags says which vacuum phases an access method lets parallel workers run.
type ParallelVacuumFlags uint8

const (
	ParallelVacuumBulkDelete ParallelVacuumFlags = 1 << iota
	ParallelVacuumCleanup
)

// Capabilities describes what an access method supports, for the planner and executor to consult.
type Capabilities struct {
	// Strategies is the number of operator strategies.
	Strategies uint16
	// SupportFunctions is the number of support function slots.
	SupportFunctions uint16
	CanOrder         bool
	CanOrderByOp     bool
	CanBackward      bool
	CanUnique        bool
	CanMultiCol      bool
	OptionalKey      bool
	SearchArray      bool
	SearchNulls      bool
	Clusterable      bool
	CanParallel      bool
	CanInclude       bool
	ParallelVacuum   ParallelVacuumFlags
}

// AccessMethod is the interface the executor drives an index through.
type AccessMethod interface {
	Capabilities() Capabilities

	Build(ctx context.Context, heap HeapScanner) (bmindex.BuildResult, error)
	BuildEmpty() error
	Insert(row []common.Value, rid common.RowID) (bool, error)

	BeginScan(nkeys, norderbys int) (*IndexScan, error)
	Rescan(scan *IndexScan, keys []bmindex.ScanKey) error
	GetTuple(scan *IndexScan, dir ScanDirection) (bool, error)
	GetBitmap(scan *IndexScan, tbm *TIDBitmap) (int64, error)
	EndScan(scan *IndexScan)

	BulkDelete(ctx context.Context, stats *bmindex.VacuumStats, callback bmindex.DeletionCallback) (*bmindex.VacuumStats, error)
	VacuumCleanup(ctx context.Context, info bmindex.VacuumInfo, stats *bmindex.VacuumStats) (*bmindex.VacuumStats, error)

	CostEstimate(path IndexPath) IndexCost
	Validate(opclass *OpClass) bool
	Options(raw []string, validate bool) (*bmindex.Options, error)
}

var _ AccessMethod = (*BitmapAM)(nil)

// IndexScan is the executor's handle on one index scan.
type IndexScan struct {
	// NumKeys is the number of scan keys every Rescan must supply.
	NumKeys int
	// HeapTID is the row GetTuple last returned.
	HeapTID common.RowID
	// Recheck is set when the executor must re-evaluate the scan keys against the heap row. Bitmap index
	// matches are exact, so it stays false.
	Recheck bool

	scan *bmindex.Scan
}

// BitmapAM is the bitmap index access method.
type BitmapAM struct {
	ix *bmindex.Index
	// CostParams prices index scans in CostEstimate.
	CostParams CostParams
}

// NewBitmapAM wraps an open index.
func NewBitmapAM(ix *bmindex.Index) *BitmapAM {
	return &BitmapAM{ix: ix, CostParams: DefaultCostParams}
}

// Index returns the underlying index.
func (am *BitmapAM) Index() *bmindex.Index {
	return am.ix
}

func (am *BitmapAM) logger() *zap.Logger {
	return am.ix.Logger()
}

// Capabilities reports a single equality strategy with one support function. Multi-column keys and null
// searches are supported; ordering, backward scans and uniqueness are not. Both vacuum phases may run in parallel
// workers.
func (am *BitmapAM) Capabilities() Capabilities {
	return Capabilities{
		Strategies:       uint16(bmindex.StrategyEqual),
		SupportFunctions: 1,
		CanMultiCol:      true,
		SearchNulls:      true,
		ParallelVacuum:   ParallelVacuumBulkDelete | ParallelVacuumCleanup,
	}
}

// Build indexes every live row of heap into the empty index.
func (am *BitmapAM) Build(ctx context.Context, heap HeapScanner) (bmindex.BuildResult, error) {
	res, err := am.ix.Build(ctx, liveRows{heap: heap})
	if err != nil {
		return res, err
	}
	am.logger().Info("index built", zap.Int("heapTuples", res.HeapTuples), zap.Int("indexTuples", res.IndexTuples))
	return res, nil
}

func (am *BitmapAM) BuildEmpty() error {
	return am.ix.BuildEmpty()
}

// Insert indexes one full table row.
func (am *BitmapAM) Insert(row []common.Value, rid common.RowID) (bool, error) {
	def := am.ix.Definition()
	if len(row) != len(def.Table.Columns) {
		return false, errors.Newf("index %s: row has %d values, table %s has %d columns",
			def.Name, len(row), def.Table.Name, len(def.Table.Columns))
	}
	return am.ix.Insert(def.Project(row), rid)
}

// BeginScan starts a scan that will be restricted by nkeys equality keys. Ordering operators are not supported.
func (am *BitmapAM) BeginScan(nkeys, norderbys int) (*IndexScan, error) {
	if norderbys > 0 {
		return nil, common.NewError(common.FeatureNotSupportedError, "index %s does not support ORDER BY operators",
			am.ix.Name())
	}
	return &IndexScan{NumKeys: nkeys, scan: am.ix.BeginScan(nil)}, nil
}

// Rescan (re)starts scan with keys, which must number scan.NumKeys.
func (am *BitmapAM) Rescan(scan *IndexScan, keys []bmindex.ScanKey) error {
	if len(keys) != scan.NumKeys {
		return errors.AssertionFailedf("index %s: scan began with %d keys, rescan has %d",
			am.ix.Name(), scan.NumKeys, len(keys))
	}
	scan.scan.Rescan(keys)
	scan.HeapTID = common.RowID{}
	return nil
}

// GetTuple advances scan to its next row and stores it in scan.HeapTID. It returns false once the scan is done.
func (am *BitmapAM) GetTuple(scan *IndexScan, dir ScanDirection) (bool, error) {
	if dir == BackwardScanDirection {
		return false, common.NewError(common.FeatureNotSupportedError, "index %s does not support backward scans",
			am.ix.Name())
	}
	scan.Recheck = false
	if !scan.scan.Next() {
		return false, scan.scan.Error()
	}
	scan.HeapTID = scan.scan.RowID()
	return true, nil
}

// GetBitmap adds every remaining row of scan to tbm and returns how many row references it read.
func (am *BitmapAM) GetBitmap(scan *IndexScan, tbm *TIDBitmap) (int64, error) {
	n, err := scan.scan.CollectAll(tbm)
	return int64(n), err
}

// EndScan releases the scan's resources.
func (am *BitmapAM) EndScan(scan *IndexScan) {
	scan.scan.Close()
}

func (am *BitmapAM) BulkDelete(ctx context.Context, stats *bmindex.VacuumStats, callback bmindex.DeletionCallback) (*bmindex.VacuumStats, error) {
	return am.ix.BulkDelete(ctx, stats, callback)
}

func (am *BitmapAM) VacuumCleanup(ctx context.Context, info bmindex.VacuumInfo, stats *bmindex.VacuumStats) (*bmindex.VacuumStats, error) {
	return am.ix.VacuumCleanup(ctx, info, stats)
}

// CostEstimate prices a scan with the generic estimate.
func (am *BitmapAM) CostEstimate(path IndexPath) IndexCost {
	return GenericCostEstimate(am.CostParams, path)
}

// Validate checks an operator class for use with the index, logging each problem at Info.
func (am *BitmapAM) Validate(opclass *OpClass) bool {
	return ValidateOpClass(am.logger(), opclass)
}

func (am *BitmapAM) Options(raw []string, validate bool) (*bmindex.Options, error) {
	return bmindex.ParseOptions(raw, validate)
}
