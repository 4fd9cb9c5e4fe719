package strategy

import (
	"hash/fnv"
	"sort"
	"strings"

	"github.com/web3guy0/tradeguard/types"
)

// magicMask keeps magic numbers positive and inside the 32-bit range brokers accept
const magicMask = 0x7fffffff

// Magic derives the broker identifier for a (strategy, symbol, timeframes, direction) tuple.
// Timeframe order does not matter.
func Magic(strategy, symbol string, timeframes []string, dir types.Direction) int64 {
	tfs := make([]string, len(timeframes))
	for i, tf := range timeframes {
		tfs[i] = strings.ToUpper(tf)
	}
	sort.Strings(tfs)

	h := fnv.New32a()
	h.Write([]byte(strategy))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToUpper(symbol)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(tfs, ",")))
	h.Write([]byte{'|'})
	h.Write([]byte(dir))

	m := int64(h.Sum32() & magicMask)
	if m == 0 {
		m = 1
	}
	return m
}
