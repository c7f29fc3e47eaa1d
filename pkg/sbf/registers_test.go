package sbf

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterMapIsBijective(t *testing.T) {
	for _, abi := range []ABI{SystemV, Windows} {
		regs := NewRegisterMap(abi)
		seen := make(map[uint8]bool)
		for r := uint8(0); r < registerMapSize; r++ {
			host := regs.Map(r)
			assert.False(t, seen[host], "abi %v: host register %d assigned to more than one eBPF register", abi, host)
			seen[host] = true
		}
	}
}

func TestRegisterMapNeverUsesR12OrRCX(t *testing.T) {
	for _, abi := range []ABI{SystemV, Windows} {
		regs := NewRegisterMap(abi)
		for r := uint8(0); r < registerMapSize; r++ {
			host := regs.Map(r)
			assert.NotEqual(t, uint8(R12), host)
			assert.NotEqual(t, uint8(RCX), host)
		}
	}
}

func TestRegisterMapWrapsModulo(t *testing.T) {
	regs := NewRegisterMap(SystemV)
	assert.Equal(t, regs.Map(0), regs.Map(registerMapSize))
}

func TestPermutedStaysBijective(t *testing.T) {
	regs := NewRegisterMap(SystemV).Permuted(7)
	seen := make(map[uint8]bool)
	for r := uint8(0); r < registerMapSize; r++ {
		host := regs.Map(r)
		assert.False(t, seen[host])
		seen[host] = true
	}
}

func TestRotatedStaysBijective(t *testing.T) {
	regs := NewRegisterMap(Windows).Rotated(3)
	seen := make(map[uint8]bool)
	for r := uint8(0); r < registerMapSize; r++ {
		host := regs.Map(r)
		assert.False(t, seen[host])
		seen[host] = true
	}
}

func TestDefaultABIMatchesRuntimeGOOS(t *testing.T) {
	want := SystemV
	if runtime.GOOS == "windows" {
		want = Windows
	}
	assert.Equal(t, want, DefaultABI())
}
