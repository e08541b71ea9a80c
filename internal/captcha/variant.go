package captcha

// Variant identifies which captcha challenge is currently rendered on the
// page. It is produced by the Classifier and consumed by the Solver's
// dispatch table.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantPuzzleV1
	VariantPuzzleV2
	VariantRotateV1
	VariantRotateV2
	VariantShapesV1
	VariantShapesV2
	VariantIconV1
	VariantIconV2
	VariantDouyinPuzzle
)

func (v Variant) String() string {
	switch v {
	case VariantPuzzleV1:
		return "puzzle_v1"
	case VariantPuzzleV2:
		return "puzzle_v2"
	case VariantRotateV1:
		return "rotate_v1"
	case VariantRotateV2:
		return "rotate_v2"
	case VariantShapesV1:
		return "shapes_v1"
	case VariantShapesV2:
		return "shapes_v2"
	case VariantIconV1:
		return "icon_v1"
	case VariantIconV2:
		return "icon_v2"
	case VariantDouyinPuzzle:
		return "douyin_puzzle"
	default:
		return "unknown"
	}
}
