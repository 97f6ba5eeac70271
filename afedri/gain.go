package afedri

// RF gain is sent as one byte (index << 3) | 1, with dB = -10 + 3 * index.
const (
	GainMinDB    = -10
	GainMaxDB    = 35
	GainStepDB   = 3
	GainIndexMin = 0
	GainIndexMax = 15
)

// GainIndexFromDB truncates: values between two steps round down to the lower step.
func GainIndexFromDB(db int) (int, error) {
	if db < GainMinDB || db > GainMaxDB {
		return 0, NewError(ErrKindInvalidArgument, "gain %d dB outside [%d, %d]", db, GainMinDB, GainMaxDB)
	}
	return (db - GainMinDB) / GainStepDB, nil
}

func EncodeGainIndex(index int) (byte, error) {
	if index < GainIndexMin || index > GainIndexMax {
		return 0, NewError(ErrKindInvalidArgument, "gain index %d outside [%d, %d]", index, GainIndexMin, GainIndexMax)
	}
	return byte(index<<3) | 1, nil
}

func GainIndexFromByte(b byte) int {
	return int(b >> 3)
}

func GainDBFromIndex(index int) int {
	return GainMinDB + GainStepDB*index
}

func GainDBFromByte(b byte) int {
	return GainDBFromIndex(GainIndexFromByte(b))
}

// NearestGainIndex maps any dB value onto the closest valid step, clamped to the index range.
func NearestGainIndex(db int) int {
	if db <= GainMinDB {
		return GainIndexMin
	}
	if db >= GainMaxDB {
		return GainIndexMax
	}
	offset := db - GainMinDB
	return (offset + GainStepDB/2) / GainStepDB
}
