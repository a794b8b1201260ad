package execution

import (
	"go.uber.org/zap"

	"mit.edu/dsg/bmindex/bmindex"
	"mit.edu/dsg/bmindex/common"
)

// EqualSupportProc is the number of the equality support function.
const EqualSupportProc = 1

// OperatorPurpose says whether an operator is used to search or to order.
type OperatorPurpose int

const (
	PurposeSearch OperatorPurpose = iota
	PurposeOrderBy
)

// Operator is an operator registered in an operator family under a strategy number.
type Operator struct {
	Name      string
	Strategy  int
	LeftType  common.Type
	RightType common.Type
	Purpose   OperatorPurpose
	// SortFamily names the family ordering operators sort by; it must be empty for search operators.
	SortFamily string
	// ResultType and ArgTypes are the operator's signature.
	ResultType common.Type
	ArgTypes   []common.Type
}

// SupportProc is a support function registered in an operator family.
type SupportProc struct {
	Name       string
	Number     int
	LeftType   common.Type
	RightType  common.Type
	ResultType common.Type
	ArgTypes   []common.Type
}

// OpFamily groups the operators and support functions of related types.
type OpFamily struct {
	Name      string
	Operators []Operator
	Procs     []SupportProc
}

// OpClass names the members of a family the index uses for one column type.
type OpClass struct {
	Name      string
	Family    *OpFamily
	InputType common.Type
	// KeyType is the stored type if it differs from InputType.
	KeyType *common.Type
}

// EqualityOpClass returns a complete operator class for equality on t.
func EqualityOpClass(t common.Type) *OpClass {
	name := t.String() + "_ops"
	return &OpClass{
		Name:      name,
		InputType: t,
		Family: &OpFamily{
			Name: name,
			Operators: []Operator{{
				Name: "=", Strategy: int(bmindex.StrategyEqual), LeftType: t, RightType: t,
				ResultType: common.BoolType, ArgTypes: []common.Type{t, t},
			}},
			Procs: []SupportProc{{
				Name: t.String() + "eq", Number: EqualSupportProc, LeftType: t, RightType: t,
				ResultType: common.Int32Type, ArgTypes: []common.Type{t, t},
			}},
		},
	}
}

type typePair struct {
	left, right common.Type
}

// opFamilyGroup collects the strategies and support numbers registered for one pair of types.
type opFamilyGroup struct {
	operatorSet uint64
	functionSet uint64
}

func signatureIs(result common.Type, args []common.Type, wantResult common.Type, want ...common.Type) bool {
	if result != wantResult || len(args) != len(want) {
		return false
	}
	for i := range args {
		if args[i] != want[i] {
			return false
		}
	}
	return true
}

// ValidateOpClass checks that opclass can serve the index: every operator is a boolean search operator with a
// valid strategy, every support function has a valid number and signature, each type pair in the family is
// complete, and the family covers the class's own type. Each problem is logged at Info and makes the result false.
func ValidateOpClass(logger *zap.Logger, opclass *OpClass) bool {
	family := opclass.Family
	keyType := opclass.InputType
	if opclass.KeyType != nil {
		keyType = *opclass.KeyType
	}
	log := logger.With(zap.String("opfamily", family.Name), zap.String("opclass", opclass.Name))
	ok := true

	for _, proc := range family.Procs {
		if proc.LeftType != proc.RightType {
			log.Info("bitmap opfamily contains support procedure with cross-type registration",
				zap.String("procedure", proc.Name))
			ok = false
		}
		if proc.LeftType != opclass.InputType {
			continue
		}
		if proc.Number != EqualSupportProc {
			log.Info("bitmap opfamily contains function with invalid support number",
				zap.String("procedure", proc.Name), zap.Int("number", proc.Number))
			ok = false
			continue
		}
		if !signatureIs(proc.ResultType, proc.ArgTypes, common.Int32Type, keyType, keyType) {
			log.Info("bitmap opfamily contains function with wrong signature for support number",
				zap.String("procedure", proc.Name), zap.Int("number", proc.Number))
			ok = false
		}
	}

	for _, op := range family.Operators {
		if op.Strategy < 1 || op.Strategy > int(bmindex.StrategyEqual) {
			log.Info("bitmap opfamily contains operator with invalid strategy number",
				zap.String("operator", op.Name), zap.Int("strategy", op.Strategy))
			ok = false
		}
		if op.Purpose != PurposeSearch || op.SortFamily != "" {
			log.Info("bitmap opfamily contains invalid ORDER BY specification for operator",
				zap.String("operator", op.Name))
			ok = false
		}
		if !signatureIs(op.ResultType, op.ArgTypes, common.BoolType, op.LeftType, op.RightType) {
			log.Info("bitmap opfamily contains operator with wrong signature", zap.String("operator", op.Name))
			ok = false
		}
	}

	groups := map[typePair]*opFamilyGroup{}
	var order []typePair
	group := func(p typePair) *opFamilyGroup {
		g, found := groups[p]
		if !found {
			g = &opFamilyGroup{}
			groups[p] = g
			order = append(order, p)
		}
		return g
	}
	for _, op := range family.Operators {
		if op.Strategy >= 0 && op.Strategy < 64 {
			group(typePair{op.LeftType, op.RightType}).operatorSet |= 1 << op.Strategy
		}
	}
	for _, proc := range family.Procs {
		if proc.Number >= 0 && proc.Number < 64 {
			group(typePair{proc.LeftType, proc.RightType}).functionSet |= 1 << proc.Number
		}
	}

	foundClassGroup := false
	for _, p := range order {
		g := groups[p]
		if p.left == opclass.InputType && p.right == opclass.InputType {
			foundClassGroup = true
		}
		if g.operatorSet != 1<<bmindex.StrategyEqual {
			log.Info("bitmap opfamily is missing operator(s) for types",
				zap.Stringer("left", p.left), zap.Stringer("right", p.right))
			ok = false
		}
		if g.functionSet&(1<<EqualSupportProc) == 0 {
			log.Info("bitmap opfamily is missing support function for types",
				zap.Stringer("left", p.left), zap.Stringer("right", p.right))
			ok = false
		}
	}
	if !foundClassGroup {
		log.Info("bitmap operator class is missing operator(s)")
		ok = false
	}
	return ok
}
