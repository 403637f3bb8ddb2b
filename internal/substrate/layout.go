package substrate

// Neighbourhood is the 5-tap von Neumann neighbourhood as (dx, dy) offsets.
// Iteration order is fixed; both executors accumulate in this order.
var Neighbourhood = [NhbdLen][2]int{
	{0, -1},
	{-1, 0}, {0, 0}, {1, 0},
	{0, 1},
}

const (
	NhbdLen    = 5
	NhbdCenter = NhbdLen / 2

	// VisChs is the width of each visible channel group (read-only and read-write).
	VisChs = 4
	HidChs = 2

	ROStart  = 0
	ROEnd    = VisChs
	RWStart  = VisChs
	RWEnd    = 2 * VisChs
	HidStart = 2 * VisChs
	HidEnd   = InpChs

	InpChs = 2*VisChs + HidChs
	OutChs = VisChs + HidChs
	InpDim = NhbdLen * InpChs

	NWeights = OutChs * InpDim
	NBiases  = OutChs
	NParams  = NWeights + NBiases

	// MaxDeviceCells bounds the number of cells one device block can hold.
	MaxDeviceCells = 1024
)

// WeightIndex locates the weight for neighbourhood tap, input channel and
// output channel within the flat weight vector.
func WeightIndex(tap, ch, out int) int {
	return (tap*InpChs+ch)*OutChs + out
}
