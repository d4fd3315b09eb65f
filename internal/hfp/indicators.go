package hfp

import (
	"fmt"
	"strconv"
	"strings"
)

// IndicatorName enumerates the fixed HFP indicator order the AG advertises
// in response to AT+CIND=? (spec.md §4.5: "a fixed indicator order via
// internal enum"). This order matches the de-facto standard the HFP spec's
// worked examples use and must stay stable for the lifetime of a session,
// since +CIEV reports an indicator by its 1-based index into this table.
type IndicatorName int

const (
	IndicatorService IndicatorName = iota
	IndicatorCall
	IndicatorCallSetup
	IndicatorCallHeld
	IndicatorSignal
	IndicatorRoam
	IndicatorBattChg
	indicatorCount
)

func (n IndicatorName) String() string {
	switch n {
	case IndicatorService:
		return "service"
	case IndicatorCall:
		return "call"
	case IndicatorCallSetup:
		return "callsetup"
	case IndicatorCallHeld:
		return "callheld"
	case IndicatorSignal:
		return "signal"
	case IndicatorRoam:
		return "roam"
	case IndicatorBattChg:
		return "battchg"
	default:
		return "?"
	}
}

// indicatorRange gives each indicator's (min, max) value range, used to
// build the +CIND=? test response.
var indicatorRange = [indicatorCount][2]int{
	IndicatorService:   {0, 1},
	IndicatorCall:      {0, 1},
	IndicatorCallSetup: {0, 3},
	IndicatorCallHeld:  {0, 2},
	IndicatorSignal:    {0, 5},
	IndicatorRoam:      {0, 1},
	IndicatorBattChg:   {0, 5},
}

// IndicatorTable holds the AG's current indicator values, updated as the
// session processes +CIEV notifications or local state changes.
type IndicatorTable struct {
	values [indicatorCount]int
}

// NewIndicatorTable creates a table with every indicator, battery included,
// at 0; there is no separate "unknown" value.
func NewIndicatorTable() *IndicatorTable {
	return &IndicatorTable{}
}

// Set updates one indicator's current value.
func (t *IndicatorTable) Set(n IndicatorName, v int) {
	if n < 0 || n >= indicatorCount {
		return
	}
	t.values[n] = v
}

// Get reads one indicator's current value.
func (t *IndicatorTable) Get(n IndicatorName) int {
	if n < 0 || n >= indicatorCount {
		return 0
	}
	return t.values[n]
}

// TestResponse formats the AT+CIND=? response body: a comma-separated list
// of ("name",(min-max)) tuples in the fixed table order.
func (t *IndicatorTable) TestResponse() string {
	parts := make([]string, 0, indicatorCount)
	for i := IndicatorName(0); i < indicatorCount; i++ {
		r := indicatorRange[i]
		parts = append(parts, fmt.Sprintf("(%q,(%d-%d))", i.String(), r[0], r[1]))
	}
	return strings.Join(parts, ",")
}

// GetResponse formats the AT+CIND? response body: the current value of
// every indicator, in table order, comma-separated.
func (t *IndicatorTable) GetResponse() string {
	parts := make([]string, indicatorCount)
	for i := range parts {
		parts[i] = strconv.Itoa(t.values[i])
	}
	return strings.Join(parts, ",")
}

// ParseCIEV parses a "+CIEV: <index>,<value>" argument body (1-based index
// into the fixed table) into the indicator name and new value.
func ParseCIEV(args string) (IndicatorName, int, error) {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("hfp: malformed +CIEV args %q", args)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || idx < 1 || idx > int(indicatorCount) {
		return 0, 0, fmt.Errorf("hfp: malformed +CIEV index %q", parts[0])
	}
	val, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("hfp: malformed +CIEV value %q", parts[1])
	}
	return IndicatorName(idx - 1), val, nil
}

// FormatCIEV formats a "+CIEV: <index>,<value>" unsolicited result for n's
// current 1-based table position.
func FormatCIEV(n IndicatorName, v int) string {
	return FormatResult("+CIEV", fmt.Sprintf("%d,%d", int(n)+1, v))
}

// BatteryHostToBT truncates a 0-100 host battery level onto the 0-5 BT
// indicator scale (spec.md §4.5: "battery truncated from a 0-100 host level
// into the 0-5 BT scale").
func BatteryHostToBT(level int) int {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return (level * 5) / 100
}

// BatteryBTToHost expands a 0-5 BT battery indicator back to an approximate
// 0-100 host level (used when the HF role learns the AG's indicator value
// and must surface it as a device battery percentage).
func BatteryBTToHost(bt int) int {
	if bt < 0 {
		bt = 0
	}
	if bt > 5 {
		bt = 5
	}
	return bt * 20
}
