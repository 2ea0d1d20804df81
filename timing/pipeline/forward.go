package pipeline

// forwardRow is one entry of a forwarding buffer: the destination
// register of an in-flight producer and the value it will eventually
// write back. Rows with valid unset must never be forwarded.
type forwardRow struct {
	dest  int
	value int32
	valid bool
}

// Forwarding buffer rows are keyed by producing-stage position.
//
//	idFwd feeds ID:  row 0=EX1, 1=EX2, 2=EX3, 3=MEM
//	exFwd feeds EX1: row 0=EX2, 1=EX3, 2=MEM
//	daFwd feeds MEM: row 0=MEM (the instruction one ahead)
//
// Producers fill their rows as they advance; bubbles clear the rows a
// real producer would have owned at their position.
const (
	idFwdRows = 4
	exFwdRows = 3
	daFwdRows = 1
)

// fillRow records a producer's destination and value at the given row.
func fillRow(buf []forwardRow, row, dest int, value int32, valid bool) {
	buf[row] = forwardRow{dest: dest, value: value, valid: valid}
}

// forwardVal scans the buffer for a valid row producing reg. The first
// match wins; ok is false when nothing is forwarded.
func forwardVal(buf []forwardRow, reg int) (int32, bool) {
	for _, row := range buf {
		if row.valid && row.dest == reg {
			return row.value, true
		}
	}
	return 0, false
}
