package badger

import (
	"fmt"
	"strconv"
	"strings"
)

const tradePrefix = "trades:"

// SnapshotKey is "{symbol}:{unix seconds}", zero-padded to 10 digits so key
// order equals time order.
func SnapshotKey(symbol string, unixSec int64) []byte {
	return []byte(fmt.Sprintf("%s:%010d", symbol, unixSec))
}

// TradeKey is "trades:{symbol}:{batch start ms}", zero-padded to 13 digits.
func TradeKey(symbol string, startMs int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%013d", tradePrefix, symbol, startMs))
}

func snapshotPrefix(symbol string) []byte {
	return []byte(symbol + ":")
}

func tradeSymbolPrefix(symbol string) []byte {
	return []byte(tradePrefix + symbol + ":")
}

// parseSnapshotKey splits a snapshot key. ok is false for trade keys and
// anything else that does not parse.
func parseSnapshotKey(key []byte) (symbol string, unixSec int64, ok bool) {
	s := string(key)
	if strings.HasPrefix(s, tradePrefix) {
		return "", 0, false
	}
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return s[:i], ts, true
}

func parseTradeKey(key []byte) (symbol string, startMs int64, ok bool) {
	s, found := strings.CutPrefix(string(key), tradePrefix)
	if !found {
		return "", 0, false
	}
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return s[:i], ts, true
}
